package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"trafficsim/internal/compute"
	"trafficsim/internal/config"
	"trafficsim/internal/monitoring"
	"trafficsim/internal/sim"
)

type actionKind int

const (
	actionSpawn actionKind = iota
	actionMarkExit
)

func (k actionKind) String() string {
	if k == actionMarkExit {
		return "mark-exit"
	}
	return "spawn"
}

// action is one scripted operator input, fired on the first tick at or after At.
type action struct {
	At      float64
	Profile string
	Kind    actionKind
}

// parseActions reads a comma separated list of profile@seconds entries.
func parseActions(list string, kind actionKind, cars *config.CarsConfig) ([]action, error) {
	var actions []action
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		profile, at, ok := strings.Cut(item, "@")
		if !ok {
			return nil, fmt.Errorf("%s %q: want profile@seconds", kind, item)
		}
		if _, known := cars.Behavior[profile]; !known {
			return nil, fmt.Errorf("%s %q: unknown behaviour profile %q", kind, item, profile)
		}
		t, err := strconv.ParseFloat(at, 64)
		if err != nil || t < 0 {
			return nil, fmt.Errorf("%s %q: invalid time %q", kind, item, at)
		}
		actions = append(actions, action{At: t, Profile: profile, Kind: kind})
	}
	return actions, nil
}

// schedule merges action lists into firing order. Equal times keep spawns
// ahead of exit marks so a script can spawn and mark in the same tick.
func schedule(lists ...[]action) []action {
	var all []action
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].At != all[j].At {
			return all[i].At < all[j].At
		}
		return all[i].Kind < all[j].Kind
	})
	return all
}

// fire applies every pending action due at the current time and returns the
// remainder. Refused spawns are reported and dropped.
func fire(pending []action, b compute.Backend, s *sim.State) []action {
	for len(pending) > 0 && pending[0].At <= s.Time {
		a := pending[0]
		pending = pending[1:]
		switch a.Kind {
		case actionSpawn:
			id, err := b.SpawnManualCar(a.Profile, s)
			if err != nil {
				monitoring.Logf("t=%.1f manual %s spawn failed: %v", s.Time, a.Profile, err)
				continue
			}
			monitoring.Logf("t=%.1f manual %s spawn: car %d", s.Time, a.Profile, id)
		case actionMarkExit:
			if !b.MarkCarForExit(a.Profile, s) {
				monitoring.Logf("t=%.1f no unmarked %s car to mark for exit", s.Time, a.Profile)
				continue
			}
			monitoring.Logf("t=%.1f marked a %s car for exit", s.Time, a.Profile)
		}
	}
	return pending
}
