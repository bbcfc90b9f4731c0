// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zookeeper elects a leader among instances sharing a ZooKeeper
// ensemble.
//
// Every instance registers an ephemeral sequential candidate node under the
// election path. The candidate with the lowest sequence number is the
// leader. Leadership is dropped as soon as the session is disconnected,
// since the candidate node may expire without this instance noticing.
package zookeeper

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethersphere/mirror/pkg/leader"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/go-zookeeper/zk"
	"go.uber.org/atomic"
)

const candidatePrefix = "candidate-"

var _ leader.Interface = (*Elector)(nil)

type Options struct {
	Servers []string
	// Path is the election node shared by all instances.
	Path string
	// NodeID is stored in the candidate node to identify the instance.
	NodeID         string
	SessionTimeout time.Duration
	// RetryDelay is the pause after a failed election round.
	RetryDelay time.Duration
	Logger     logging.Logger
}

// conn is the part of the ZooKeeper client the election uses.
type conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
	Close()
}

// Elector takes part in the election until it is closed.
type Elector struct {
	conn       conn
	path       string
	nodeID     string
	retryDelay time.Duration
	logger     logging.Logger
	isLeader   atomic.Bool
	leader.Notifier

	mu        sync.Mutex
	candidate string // full path of the own candidate node

	// wake starts a new round once a session is (re)established, as a
	// reconnect within the session timeout does not fire the watch.
	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// New connects to the ensemble and starts taking part in the election.
func New(o Options) (*Elector, error) {
	if len(o.Servers) == 0 {
		return nil, errors.New("zookeeper: no servers")
	}
	if !strings.HasPrefix(o.Path, "/") || strings.HasSuffix(o.Path, "/") {
		return nil, fmt.Errorf("zookeeper: invalid election path %q", o.Path)
	}
	o = o.withDefaults()

	c, events, err := zk.Connect(o.Servers, o.SessionTimeout, zk.WithLogger(zkLogger{o.Logger}))
	if err != nil {
		return nil, fmt.Errorf("zookeeper connect: %w", err)
	}
	return newElector(c, events, o), nil
}

func (o Options) withDefaults() Options {
	if o.SessionTimeout == 0 {
		o.SessionTimeout = 10 * time.Second
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.New(io.Discard, 0)
	}
	return o
}

func newElector(c conn, events <-chan zk.Event, o Options) *Elector {
	o = o.withDefaults()
	e := &Elector{
		conn:       c,
		path:       o.Path,
		nodeID:     o.NodeID,
		retryDelay: o.RetryDelay,
		logger:     o.Logger,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}

	e.wg.Add(2)
	go e.watchSession(events)
	go e.elect()
	return e
}

func (e *Elector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *Elector) setLeader(isLeader bool) {
	if e.isLeader.Swap(isLeader) == isLeader {
		return
	}
	if isLeader {
		e.logger.Infof("zookeeper: leadership acquired with %s", e.ownCandidate())
	} else {
		e.logger.Infof("zookeeper: leadership lost")
	}
	e.Notify(isLeader)
}

func (e *Elector) ownCandidate() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.candidate
}

// watchSession drops leadership when the session can no longer be trusted.
func (e *Elector) watchSession(events <-chan zk.Event) {
	defer e.wg.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateDisconnected, zk.StateExpired:
				e.logger.Debugf("zookeeper: session %s", ev.State)
				e.setLeader(false)
			case zk.StateHasSession:
				select {
				case e.wake <- struct{}{}:
				default:
				}
			}
			if ev.State == zk.StateExpired {
				// the ephemeral node is gone, a new one is created
				e.mu.Lock()
				e.candidate = ""
				e.mu.Unlock()
			}
		case <-e.quit:
			return
		}
	}
}

// elect runs election rounds until the elector is closed.
func (e *Elector) elect() {
	defer e.wg.Done()
	for {
		wait, err := e.round()
		if err != nil {
			e.logger.Debugf("zookeeper: election round: %v", err)
			e.setLeader(false)
			select {
			case <-time.After(e.retryDelay):
			case <-e.wake:
			case <-e.quit:
				return
			}
			continue
		}
		select {
		case <-wait:
		case <-e.wake:
		case <-e.quit:
			return
		}
	}
}

// round makes sure the own candidate node exists, evaluates the candidates
// and returns a channel that fires on the next membership change.
func (e *Elector) round() (<-chan zk.Event, error) {
	if err := e.ensurePath(e.path); err != nil {
		return nil, fmt.Errorf("ensure election path: %w", err)
	}

	candidate := e.ownCandidate()
	if candidate != "" {
		exists, _, err := e.conn.Exists(candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			candidate = ""
		}
	}
	if candidate == "" {
		p, err := e.conn.Create(e.path+"/"+candidatePrefix, []byte(e.nodeID), zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
		if err != nil {
			return nil, fmt.Errorf("create candidate: %w", err)
		}
		e.mu.Lock()
		e.candidate = p
		e.mu.Unlock()
		candidate = p
		e.logger.Debugf("zookeeper: registered candidate %s", p)
	}

	children, _, ch, err := e.conn.ChildrenW(e.path)
	if err != nil {
		return nil, fmt.Errorf("watch candidates: %w", err)
	}
	e.setLeader(IsLowest(children, candidate[strings.LastIndexByte(candidate, '/')+1:]))
	return ch, nil
}

func (e *Elector) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := e.conn.Exists(cur)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := e.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

// Close withdraws from the election and closes the session.
func (e *Elector) Close() error {
	close(e.quit)
	e.setLeader(false)

	var err error
	if candidate := e.ownCandidate(); candidate != "" {
		if derr := e.conn.Delete(candidate, -1); derr != nil && !errors.Is(derr, zk.ErrNoNode) {
			err = fmt.Errorf("delete candidate: %w", derr)
		}
	}
	e.conn.Close()
	e.wg.Wait()
	return err
}

// IsLowest reports whether own has the lowest sequence number among the
// candidate node names. Names without a valid sequence are ignored.
func IsLowest(children []string, own string) bool {
	ownSeq, ok := sequence(own)
	if !ok {
		return false
	}
	seqs := make([]string, 0, len(children))
	for _, c := range children {
		if s, ok := sequence(c); ok {
			seqs = append(seqs, s)
		}
	}
	if len(seqs) == 0 {
		return false
	}
	sort.Strings(seqs)
	return seqs[0] == ownSeq
}

// sequence returns the zero padded sequence suffix of a candidate name,
// which sorts lexically.
func sequence(name string) (string, bool) {
	if !strings.HasPrefix(name, candidatePrefix) {
		return "", false
	}
	s := name[len(candidatePrefix):]
	if len(s) != 10 {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}

type zkLogger struct {
	logger logging.Logger
}

func (l zkLogger) Printf(format string, args ...interface{}) {
	l.logger.Tracef("zookeeper: "+format, args...)
}
