package zookeeper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn 在内存中模拟 ZooKeeper 节点树
type memConn struct {
	mu       sync.Mutex
	nodes    map[string]bool
	seq      int
	watchers map[string][]chan zk.Event
}

func newMemConn() *memConn {
	return &memConn{nodes: map[string]bool{}, watchers: map[string][]chan zk.Event{}}
}

func (c *memConn) Exists(path string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[path], nil, nil
}

func (c *memConn) Create(path string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[path] {
		return "", zk.ErrNodeExists
	}
	c.nodes[path] = true
	return path, nil
}

func (c *memConn) CreateProtectedEphemeralSequential(path string, _ []byte, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := strings.LastIndex(path, "/")
	// guid 故意倒序，验证排序按顺序号而不是前缀
	name := fmt.Sprintf("%s/_c_%03d-%s%010d", path[:idx], 999-c.seq, path[idx+1:], c.seq)
	c.seq++
	c.nodes[name] = true
	return name, nil
}

func (c *memConn) Children(path string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for n := range c.nodes {
		if strings.HasPrefix(n, path+"/") && !strings.Contains(strings.TrimPrefix(n, path+"/"), "/") {
			out = append(out, strings.TrimPrefix(n, path+"/"))
		}
	}
	return out, nil, nil
}

func (c *memConn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan zk.Event, 1)
	c.watchers[path] = append(c.watchers[path], ch)
	return c.nodes[path], nil, ch, nil
}

func (c *memConn) Delete(path string, _ int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nodes[path] {
		return zk.ErrNoNode
	}
	delete(c.nodes, path)
	for _, ch := range c.watchers[path] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: path}
	}
	delete(c.watchers, path)
	return nil
}

func TestDistributedLockMutualExclusion(t *testing.T) {
	conn := newMemConn()

	first, err := NewDistributedLock(conn, "reaper")
	require.NoError(t, err)
	require.NoError(t, first.Lock(context.Background()))

	second, err := NewDistributedLock(conn, "reaper")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() { acquired <- second.Lock(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Unlock())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
	require.NoError(t, second.Unlock())
}

func TestDistributedLockHonoursContext(t *testing.T) {
	conn := newMemConn()
	holder, err := NewDistributedLock(conn, "reaper")
	require.NoError(t, err)
	require.NoError(t, holder.Lock(context.Background()))

	waiter, err := NewDistributedLock(conn, "reaper")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = waiter.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	children, _, _ := conn.Children(lockRoot + "/reaper")
	assert.Len(t, children, 1, "abandoned waiter must remove its node")
}

func TestUnlockWithoutLock(t *testing.T) {
	l, err := NewDistributedLock(newMemConn(), "x")
	require.NoError(t, err)
	assert.Error(t, l.Unlock())
}
