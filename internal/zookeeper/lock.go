// Package zookeeper provides a distributed lock on top of ZooKeeper
// ephemeral sequential nodes. The reconcile sweeper uses it so only one
// worker instance scans for stuck orders at a time.
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/atlas_locks"

// Conn wraps a ZooKeeper connection.
type Conn struct {
	*zk.Conn
}

// Connect dials the given ZooKeeper ensemble.
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &Conn{Conn: conn}, nil
}

// DistributedLock serializes access to a named resource across processes.
type DistributedLock struct {
	conn     *Conn
	path     string // lock parent path, e.g. /atlas_locks/reconcile-sweeper
	lockNode string // node created by this holder once acquired
}

// NewDistributedLock prepares the lock path for resourceID, creating parent
// nodes if needed.
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	if exists, _, err := conn.Exists(lockRoot); err != nil {
		return nil, fmt.Errorf("failed to check lock root node: %w", err)
	} else if !exists {
		if _, err := conn.Create(lockRoot, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return nil, fmt.Errorf("failed to create lock root node: %w", err)
		}
	}

	lockPath := lockRoot + "/" + resourceID
	if exists, _, err := conn.Exists(lockPath); err != nil {
		return nil, fmt.Errorf("failed to check lock path node: %w", err)
	} else if !exists {
		if _, err := conn.Create(lockPath, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return nil, fmt.Errorf("failed to create lock path node %s: %w", lockPath, err)
		}
	}

	return &DistributedLock{
		conn: conn,
		path: lockPath,
	}, nil
}

// Lock blocks until the lock is acquired or the wait times out.
func (l *DistributedLock) Lock() error {
	// Create an ephemeral sequential node under the lock path.
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		// The holder of the lowest sequence number owns the lock.
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			return nil
		}

		// Otherwise watch the node immediately before ours.
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// The previous node may disappear between listing and
			// watching; retry the loop.
			if err == zk.ErrNoNode {
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(30 * time.Second):
			return errors.New("timeout waiting for lock")
		}
	}
}

// Unlock releases the lock by deleting this holder's node.
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
