package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"sync"
)

// cpuProfile covers the tick loop of one run. Recording, plotting and
// shutdown happen after Stop and stay out of the profile.
type cpuProfile struct {
	path string
	f    *os.File
	once sync.Once
}

var profileNameReplacer = strings.NewReplacer("/", "-", "(", "", ")", "", " ", "_")

// profilePath resolves the -cpuprofile target for a run. A directory, or a
// target ending in a path separator, gets one file per route, backend and
// seed so comparison runs do not overwrite each other.
func profilePath(target, route, backend string, seed uint64) string {
	info, err := os.Stat(target)
	isDir := err == nil && info.IsDir()
	if !isDir && !strings.HasSuffix(target, string(os.PathSeparator)) {
		return target
	}
	name := profileNameReplacer.Replace(fmt.Sprintf("cpu-%s-%s-%d.pprof", route, backend, seed))
	return filepath.Join(target, name)
}

func startCPUProfile(path string) (*cpuProfile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	return &cpuProfile{path: path, f: f}, nil
}

// Stop flushes the profile. Only the first call has an effect, so it can be
// both deferred and called once simulated time runs out.
func (p *cpuProfile) Stop() error {
	var err error
	p.once.Do(func() {
		pprof.StopCPUProfile()
		err = p.f.Close()
	})
	return err
}
