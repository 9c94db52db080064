package collaborator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitStatsLineStripsTrailingJSON(t *testing.T) {
	stderr := []byte("trace A\ntrace B\n{\"instructions\":42,\"memory_peak_kb\":100,\"limit_reached\":false}\n")
	stats, trimmed := splitStatsLine(stderr)
	require.Equal(t, uint64(42), stats.Instructions)
	require.Equal(t, uint64(100), stats.MemoryPeakKB)
	require.False(t, stats.LimitReached)
	require.Equal(t, "trace A\ntrace B", string(trimmed))
}

func TestSplitStatsLineAbsentDefaultsZero(t *testing.T) {
	stderr := []byte("no stats here\n")
	stats, trimmed := splitStatsLine(stderr)
	require.Equal(t, uint64(0), stats.Instructions)
	require.False(t, stats.LimitReached)
	require.Equal(t, stderr, trimmed)
}

func TestSplitStatsLineUnparseableDefaultsZero(t *testing.T) {
	stderr := []byte("junk\n{not json}\n")
	stats, trimmed := splitStatsLine(stderr)
	require.Equal(t, uint64(0), stats.Instructions)
	require.Equal(t, stderr, trimmed)
}

func TestUintOr(t *testing.T) {
	require.Equal(t, uint64(5), uintOr(nil, 5))
	v := uint64(9)
	require.Equal(t, uint64(9), uintOr(&v, 5))
}

func TestSafeKey(t *testing.T) {
	require.Equal(t, `MARCH`, safeKey(`march`))
	require.Equal(t, `OPTLEVEL`, safeKey(`opt-level`))
	require.Equal(t, `ABC`, safeKey(`a.b!c`))
}

func TestFlagsToEnvSortedAndJSON(t *testing.T) {
	env, err := flagsToEnv(map[string]string{`march`: `native`, `O`: `2`})
	require.NoError(t, err)
	require.Equal(t, []string{`FLAG_O=2`, `FLAG_MARCH=native`, `FLAGS_JSON={"O":"2","march":"native"}`}, env)
}

func TestFlagsToEnvEmpty(t *testing.T) {
	env, err := flagsToEnv(nil)
	require.NoError(t, err)
	require.Equal(t, []string{`FLAGS_JSON=null`}, env)
}
