package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"github.com/QuangTung97/mmalloc/allocator"
)

type opKind int

const (
	opAlloc opKind = iota
	opFree
	opDump
)

type traceOp struct {
	line     int
	kind     opKind
	strategy allocator.Strategy
	size     int
	name     string
}

// parseLine returns ok false for blank lines and comments.
func parseLine(lineNum int, line string) (traceOp, bool, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return traceOp{}, false, nil
	}

	op := traceOp{line: lineNum}
	switch fields[0] {
	case "alloc":
		if len(fields) != 4 {
			return op, false, errors.Newf("line %d: usage: alloc <strategy> <size> <name>", lineNum)
		}
		s, err := allocator.ParseStrategy(fields[1])
		if err != nil {
			return op, false, errors.Wrapf(err, "line %d", lineNum)
		}
		size, err := humanize.ParseBytes(fields[2])
		if err != nil {
			return op, false, errors.Wrapf(err, "line %d: size %q", lineNum, fields[2])
		}
		if size > 1<<31 {
			return op, false, errors.Newf("line %d: size %s too large", lineNum, fields[2])
		}
		op.kind = opAlloc
		op.strategy = s
		op.size = int(size)
		op.name = fields[3]

	case "free":
		if len(fields) != 2 {
			return op, false, errors.Newf("line %d: usage: free <name>", lineNum)
		}
		op.kind = opFree
		op.name = fields[1]

	case "dump":
		if len(fields) != 1 {
			return op, false, errors.Newf("line %d: usage: dump", lineNum)
		}
		op.kind = opDump

	default:
		return op, false, errors.Newf("line %d: unknown command %q", lineNum, fields[0])
	}
	return op, true, nil
}

// simulator replays trace operations against one allocator, tracking live
// allocations by name.
type simulator struct {
	alloc *allocator.Allocator
	out   io.Writer
	quiet bool

	live map[string][]byte
}

func newSimulator(a *allocator.Allocator, out io.Writer, quiet bool) *simulator {
	return &simulator{
		alloc: a,
		out:   out,
		quiet: quiet,
		live:  make(map[string][]byte),
	}
}

func (s *simulator) printf(format string, args ...interface{}) {
	if !s.quiet {
		fmt.Fprintf(s.out, format, args...)
	}
}

func (s *simulator) exec(op traceOp) error {
	switch op.kind {
	case opAlloc:
		if _, ok := s.live[op.name]; ok {
			return errors.Newf("line %d: %q is already allocated", op.line, op.name)
		}
		b, err := s.alloc.Allocate(op.strategy, op.size)
		if errors.Is(err, allocator.ErrOutOfMemory) {
			s.printf("alloc %s %s %s: out of memory\n", op.strategy, humanize.IBytes(uint64(op.size)), op.name)
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "line %d", op.line)
		}
		s.live[op.name] = b
		s.printf("alloc %s %s %s: %s usable\n", op.strategy, humanize.IBytes(uint64(op.size)), op.name,
			humanize.IBytes(uint64(cap(b))))

	case opFree:
		b, ok := s.live[op.name]
		if !ok {
			return errors.Newf("line %d: %q is not allocated", op.line, op.name)
		}
		delete(s.live, op.name)
		if err := s.alloc.Release(b); err != nil {
			return errors.Wrapf(err, "line %d: free %s", op.line, op.name)
		}
		s.printf("free %s\n", op.name)

	case opDump:
		s.dump()
	}

	return s.alloc.Validate()
}

// run executes every line of r, stopping at the first error.
func (s *simulator) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		op, ok, err := parseLine(lineNum, scanner.Text())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.exec(op); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read trace")
}

func formatBlocks(blocks []allocator.BlockInfo, buddy bool) string {
	var sb strings.Builder
	for _, blk := range blocks {
		state := "used"
		if blk.Free {
			state = "free"
		}
		if buddy {
			fmt.Fprintf(&sb, "  %5d  %-9s order %d  %s\n", blk.Offset, humanize.IBytes(uint64(blk.Size)), blk.Order, state)
		} else {
			fmt.Fprintf(&sb, "  %5d  %-9s %s\n", blk.Offset, humanize.IBytes(uint64(blk.Size)), state)
		}
	}
	return sb.String()
}

func (s *simulator) dump() {
	st := s.alloc.Stats()
	fmt.Fprintf(s.out, "mode: %s\n", st.Mode)

	if st.SegregatedReserved {
		fmt.Fprintf(s.out, "segregated region: %d free blocks, %s free, %d indexed\n",
			st.SegregatedFreeBlocks, humanize.IBytes(uint64(st.SegregatedFreeBytes)), st.IndexNodes)
		fmt.Fprint(s.out, formatBlocks(s.alloc.SegregatedBlocks(), false))
	}
	if st.BuddyReserved {
		fmt.Fprintf(s.out, "buddy region: %s free\n", humanize.IBytes(uint64(st.BuddyFreeBytes)))
		fmt.Fprint(s.out, formatBlocks(s.alloc.BuddyBlocks(), true))
	}
}
