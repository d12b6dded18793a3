package adapter

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

// fakeZk 只实现分布式锁用到的节点操作
type fakeZk struct {
	mu       sync.Mutex
	nodes    map[string]bool
	seq      int
	watchers map[string][]chan zk.Event
}

func newFakeZk() *fakeZk {
	return &fakeZk{nodes: map[string]bool{}, watchers: map[string][]chan zk.Event{}}
}

func (c *fakeZk) Exists(path string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[path], nil, nil
}

func (c *fakeZk) Create(path string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[path] {
		return "", zk.ErrNodeExists
	}
	c.nodes[path] = true
	return path, nil
}

func (c *fakeZk) CreateProtectedEphemeralSequential(path string, _ []byte, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := strings.LastIndex(path, "/")
	name := fmt.Sprintf("%s/_c_guid-%s%010d", path[:idx], path[idx+1:], c.seq)
	c.seq++
	c.nodes[name] = true
	return name, nil
}

func (c *fakeZk) Children(path string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for n := range c.nodes {
		rest := strings.TrimPrefix(n, path+"/")
		if rest != n && !strings.Contains(rest, "/") {
			out = append(out, rest)
		}
	}
	return out, nil, nil
}

func (c *fakeZk) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan zk.Event, 1)
	c.watchers[path] = append(c.watchers[path], ch)
	return c.nodes[path], nil, ch, nil
}

func (c *fakeZk) Delete(path string, _ int32) error {
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

func TestZkReaperLockerSerializesSweeps(t *testing.T) {
	conn := newFakeZk()
	a := NewZkReaperLocker(conn, "")
	b := NewZkReaperLocker(conn, "")

	releaseA, err := a.Acquire(context.Background())
	require.NoError(t, err)

	// 第二个实例在锁被占用期间拿不到锁
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	releaseA()

	releaseB, err := b.Acquire(context.Background())
	require.NoError(t, err)
	releaseB()

	children, _, err := conn.Children("/stockledger_locks/reservation-reaper")
	require.NoError(t, err)
	assert.Empty(t, children, "lock nodes are removed after release")
}
