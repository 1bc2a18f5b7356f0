package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QuangTung97/mmalloc/allocator"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    traceOp
		wantOK  bool
		wantErr string
	}{
		{name: "blank", line: "   "},
		{name: "comment", line: "# nothing here"},
		{
			name:   "alloc",
			line:   "alloc best 100 a",
			want:   traceOp{line: 1, kind: opAlloc, strategy: allocator.StrategyBestFit, size: 100, name: "a"},
			wantOK: true,
		},
		{
			name:   "alloc with unit and comment",
			line:   "alloc buddy 1KiB big # one kibibyte",
			want:   traceOp{line: 1, kind: opAlloc, strategy: allocator.StrategyBuddy, size: 1024, name: "big"},
			wantOK: true,
		},
		{
			name:   "free",
			line:   "free a",
			want:   traceOp{line: 1, kind: opFree, name: "a"},
			wantOK: true,
		},
		{
			name:   "dump",
			line:   "dump",
			want:   traceOp{line: 1, kind: opDump},
			wantOK: true,
		},
		{name: "unknown command", line: "realloc a 10", wantErr: `unknown command "realloc"`},
		{name: "unknown strategy", line: "alloc tlsf 10 a", wantErr: `unknown strategy "tlsf"`},
		{name: "bad size", line: "alloc first ten a", wantErr: `size "ten"`},
		{name: "missing name", line: "alloc first 10", wantErr: "usage: alloc"},
		{name: "free without name", line: "free", wantErr: "usage: free"},
		{name: "dump with args", line: "dump all", wantErr: "usage: dump"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, ok, err := parseLine(1, tt.line)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Contains(t, err.Error(), "line 1")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, op)
			}
		})
	}
}

func TestReplay(t *testing.T) {
	trace := `# mixed families
alloc first 100 a
alloc buddy 10 b
free a
alloc worst 5000 c
free b
dump
`
	var out bytes.Buffer
	require.NoError(t, runReplay(strings.NewReader(trace), &out))

	output := out.String()
	assert.Contains(t, output, "alloc first 100 B a: 104 B usable\n")
	assert.Contains(t, output, "alloc buddy 10 B b: 16 B usable\n")
	assert.Contains(t, output, "free a\n")
	assert.Contains(t, output, "c: out of memory\n")
	assert.Contains(t, output, "mode: worst\n")
	assert.Contains(t, output, "segregated region: 1 free blocks, 4.0 KiB free, 0 indexed\n")
	assert.Contains(t, output, "free b\n")
	assert.Contains(t, output, "buddy region: 4.0 KiB free\n")
	assert.Contains(t, output, "      0  4.0 KiB   order 7  free\n")
	assert.Equal(t, 2, strings.Count(output, "mode: worst\n"))
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name    string
		trace   string
		wantErr string
	}{
		{name: "free unknown name", trace: "free x\n", wantErr: `line 1: "x" is not allocated`},
		{name: "name reused", trace: "alloc first 8 x\nalloc next 8 x\n", wantErr: `line 2: "x" is already allocated`},
		{name: "parse error", trace: "alloc first 8 x\nbogus\n", wantErr: "line 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runReplay(strings.NewReader(tt.trace), &out)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSimulator_Quiet(t *testing.T) {
	var out bytes.Buffer
	sim := newSimulator(allocator.New(allocator.Config{}), &out, true)

	require.NoError(t, sim.run(strings.NewReader("alloc next 16 a\nfree a\n")))
	assert.Equal(t, "", out.String())

	sim.dump()
	assert.Contains(t, out.String(), "mode: next\n")
}

func TestFormatBlocks(t *testing.T) {
	seg := formatBlocks([]allocator.BlockInfo{
		{Offset: 0, Size: 104},
		{Offset: 136, Size: 3928, Free: true},
	}, false)
	assert.Equal(t, "      0  104 B     used\n    136  3.8 KiB   free\n", seg)

	buddy := formatBlocks([]allocator.BlockInfo{{Offset: 0, Size: 4096, Order: 7, Free: true}}, true)
	assert.Equal(t, "      0  4.0 KiB   order 7  free\n", buddy)
}

func TestScenarios(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runScenarios(&out))
	assert.Equal(t, "round trip: ok\ncoalesce: ok\n", out.String())
}

func TestScenarioCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"scenario"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "coalesce: ok")
}
