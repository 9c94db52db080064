// Package collaborator invokes the two external collaborators named in
// spec.md §6: the sandbox (execute) and compiler (compile) container
// images, via the Docker Engine API. Wiring the official
// github.com/docker/docker/client SDK (grounded on the dependency set of
// other_examples/manifests/Generativebots-ocx-backend-go-svc, a real
// container-orchestrating backend in the retrieval pack) rather than
// shelling out to the docker CLI, the way
// original_source/api/src/sandbox.rs does via tokio::process::Command —
// the Go ecosystem's idiom for driving containers programmatically is the
// SDK client, not a subprocess wrapper.
package collaborator

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// statsLineRe matches the sandbox collaborator's trailing stats line
// (spec.md §4.5 step 6 / §6): the final line of stderr, preceded by a
// newline, containing a single-line JSON object.
var statsLineRe = regexp.MustCompile(`\n(\{[^\n]+\})\n?$`)

// sandboxStats mirrors the JSON object the sandbox collaborator contract
// (spec.md §6) requires on the last line of stderr. Pointer fields default
// to zero/false when absent, per the contract.
type sandboxStats struct {
	Instructions     uint64             `json:"instructions"`
	MemoryPeakKB     uint64             `json:"memory_peak_kb"`
	MemoryRSSKB      *uint64            `json:"memory_rss_kb"`
	MemoryHWMKB      *uint64            `json:"memory_hwm_kb"`
	MemoryDataKB     *uint64            `json:"memory_data_kb"`
	MemoryStackKB    *uint64            `json:"memory_stack_kb"`
	IOReadBytes      *uint64            `json:"io_read_bytes"`
	IOWriteBytes     *uint64            `json:"io_write_bytes"`
	GuestMmapBytes   *uint64            `json:"guest_mmap_bytes"`
	GuestMmapPeak    *uint64            `json:"guest_mmap_peak"`
	GuestHeapBytes   *uint64            `json:"guest_heap_bytes"`
	LimitReached     bool               `json:"limit_reached"`
	Syscalls         *uint64            `json:"syscalls"`
	SyscallBreakdown map[string]uint64  `json:"syscall_breakdown"`
}

// splitStatsLine extracts and strips the trailing stats line from stderr
// (spec.md §4.5 step 6): "Strip that line (including the leading \n) from
// stderr. If the line is absent or unparseable, all stats default to zero
// and limit_reached = false."
func splitStatsLine(stderr []byte) (stats sandboxStats, trimmedStderr []byte) {
	loc := statsLineRe.FindSubmatchIndex(stderr)
	if loc == nil {
		return sandboxStats{}, stderr
	}

	jsonStart, jsonEnd := loc[2], loc[3]
	if err := json.Unmarshal(stderr[jsonStart:jsonEnd], &stats); err != nil {
		return sandboxStats{}, stderr
	}

	// loc[0] is the start of the match, i.e. the leading '\n'.
	return stats, stderr[:loc[0]]
}

func uintOr(p *uint64, def uint64) uint64 {
	if p == nil {
		return def
	}
	return *p
}

// encodeBase64 is a small readability wrapper around the stdlib codec used
// to encode stdout/stderr per spec.md §4.5 step 7.
func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// safeKey strips every byte outside [A-Za-z0-9_] from key, per spec.md
// §4.4 step 4: "SAFE_KEY strips non-[A-Za-z0-9_]".
func safeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// flagsToEnv renders a compile job's flag map as the FLAG_<SAFE_KEY>=<value>
// environment variables plus FLAGS_JSON, per spec.md §4.4 step 4. Keys are
// sorted for deterministic, testable output (the compiler contract does not
// care about env var ordering).
func flagsToEnv(flags map[string]string) ([]string, error) {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		env = append(env, `FLAG_`+safeKey(k)+`=`+flags[k])
	}

	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	env = append(env, `FLAGS_JSON=`+string(flagsJSON))
	return env, nil
}
