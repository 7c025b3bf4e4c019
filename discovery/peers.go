// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/constitute-foundation/constitute/lib/clock"
)

// MaxFanout is the most peers a single exchange round contacts.
const MaxFanout = 6

// Scoreboard ranks known peers by historical exchange success and
// gates failed peers behind a randomized redial backoff. Selection is
// success-biased but always keeps one slot for exploration, so a peer
// with a bad first impression is not starved forever.
type Scoreboard struct {
	clk clock.Clock

	mu    sync.Mutex
	peers map[string]*peerScore
}

type peerScore struct {
	successes int
	failures  int
	retry     *backoff.ExponentialBackOff
	nextTry   time.Time
}

// NewScoreboard creates an empty scoreboard on the given clock.
func NewScoreboard(clk clock.Clock) *Scoreboard {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scoreboard{clk: clk, peers: make(map[string]*peerScore)}
}

// Observe records the outcome of one exchange with a peer. Success
// clears any redial gate; failure pushes the next attempt out by a
// randomized, growing interval.
func (s *Scoreboard) Observe(devicePk string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.peers[devicePk]
	if p == nil {
		p = &peerScore{}
		s.peers[devicePk] = p
	}
	if ok {
		p.successes++
		p.retry = nil
		p.nextTry = time.Time{}
		return
	}
	p.failures++
	if p.retry == nil {
		p.retry = backoff.NewExponentialBackOff()
		p.retry.InitialInterval = 5 * time.Second
		p.retry.MaxInterval = 10 * time.Minute
		p.retry.MaxElapsedTime = 0
	}
	p.nextTry = s.clk.Now().Add(p.retry.NextBackOff())
}

// Eligible reports whether a peer is past its redial gate.
func (s *Scoreboard) Eligible(devicePk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.peers[devicePk]
	return p == nil || !s.clk.Now().Before(p.nextTry)
}

// score is the success ratio with a +1/+2 prior so unknown peers start
// at one half.
func (p *peerScore) score() float64 {
	if p == nil {
		return 0.5
	}
	return float64(p.successes+1) / float64(p.successes+p.failures+2)
}

// Select picks up to MaxFanout eligible peers from candidates: the
// best-scoring ones, with the final slot filled by a uniformly random
// eligible candidate not already chosen.
func (s *Scoreboard) Select(candidates []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	eligible := make([]string, 0, len(candidates))
	for _, pk := range candidates {
		if p := s.peers[pk]; p == nil || !now.Before(p.nextTry) {
			eligible = append(eligible, pk)
		}
	}
	if len(eligible) <= MaxFanout {
		return eligible
	}

	ranked := make([]string, len(eligible))
	copy(ranked, eligible)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := s.peers[ranked[i]].score(), s.peers[ranked[j]].score()
		if si != sj {
			return si > sj
		}
		return ranked[i] < ranked[j]
	})

	chosen := ranked[:MaxFanout-1]
	rest := ranked[MaxFanout-1:]
	explore := rest[rand.IntN(len(rest))]
	return append(append([]string{}, chosen...), explore)
}
