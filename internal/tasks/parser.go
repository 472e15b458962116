// Package tasks extracts task blocks and unchecked checklist items from a
// markdown task document.
//
// A block opens at a header line and runs until the next header or any
// terminator line, whichever comes first. The file is re-read on every call
// because the agent edits it between iterations.
package tasks

import (
	"bytes"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"regexp"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// Default delimiter patterns.
var (
	// DefaultHeader opens a task block: a third-level heading with text.
	DefaultHeader = regexp.MustCompile(`^###\s+\S`)
	// DefaultSeparator terminates a block at a horizontal rule.
	DefaultSeparator = regexp.MustCompile(`^---+\s*$`)
	// DefaultSection terminates a block at a second-level heading.
	DefaultSection = regexp.MustCompile(`^##\s`)
	// DefaultUnchecked matches a list item with an empty checkbox.
	DefaultUnchecked = regexp.MustCompile(`^\s*[-*+]\s+\[ \]`)
)

// Block is one task unit.
type Block struct {
	// Text is the raw block text including its header line.
	Text string
	// Header is the first line of the block.
	Header string
	// Line is the 1-based line number of the header.
	Line int
	// Unchecked counts unchecked item markers inside the block.
	Unchecked int
}

// Parser holds the delimiter set. The zero value is not usable; use NewParser.
type Parser struct {
	header      *regexp.Regexp
	terminators []*regexp.Regexp
	unchecked   *regexp.Regexp
}

// Option configures a Parser.
type Option func(*Parser)

// WithHeaderPattern replaces the block header pattern.
func WithHeaderPattern(re *regexp.Regexp) Option {
	return func(p *Parser) { p.header = re }
}

// WithTerminators replaces the terminator patterns. The header pattern
// always terminates the previous block as well.
func WithTerminators(res ...*regexp.Regexp) Option {
	return func(p *Parser) { p.terminators = res }
}

// WithExtraTerminators appends terminator patterns to the current set.
func WithExtraTerminators(res ...*regexp.Regexp) Option {
	return func(p *Parser) { p.terminators = append(p.terminators, res...) }
}

// WithUncheckedPattern replaces the unchecked-item pattern.
func WithUncheckedPattern(re *regexp.Regexp) Option {
	return func(p *Parser) { p.unchecked = re }
}

// NewParser returns a Parser using the default delimiters, adjusted by opts.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		header:      DefaultHeader,
		terminators: []*regexp.Regexp{DefaultSeparator, DefaultSection},
		unchecked:   DefaultUnchecked,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewParserFromPatterns compiles string patterns, leaving empty ones at
// their defaults.
func NewParserFromPatterns(header string, terminators []string, unchecked string) (*Parser, error) {
	var opts []Option
	if header != "" {
		re, err := regexp.Compile(header)
		if err != nil {
			return nil, errors.NewValidationError("invalid header pattern").WithValue(header).WithCause(err)
		}
		opts = append(opts, WithHeaderPattern(re))
	}
	if len(terminators) > 0 {
		res := make([]*regexp.Regexp, 0, len(terminators))
		for _, t := range terminators {
			re, err := regexp.Compile(t)
			if err != nil {
				return nil, errors.NewValidationError("invalid terminator pattern").WithValue(t).WithCause(err)
			}
			res = append(res, re)
		}
		opts = append(opts, WithTerminators(res...))
	}
	if unchecked != "" {
		re, err := regexp.Compile(unchecked)
		if err != nil {
			return nil, errors.NewValidationError("invalid unchecked pattern").WithValue(unchecked).WithCause(err)
		}
		opts = append(opts, WithUncheckedPattern(re))
	}
	return NewParser(opts...), nil
}

func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFoundError("task file", path).WithCause(err)
		}
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return data, nil
}

// lines yields the 1-based number and text of every line in data. Lines
// have no length limit.
func lines(data []byte) iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		n := 0
		for line := range bytes.Lines(data) {
			n++
			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			if !yield(n, string(line)) {
				return
			}
		}
	}
}

func (p *Parser) terminates(line string) bool {
	for _, re := range p.terminators {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ParseBlocks reads path and returns its blocks in document order. The file
// is read once, up front; blocks are produced lazily as the sequence is
// ranged over.
func (p *Parser) ParseBlocks(path string) (iter.Seq[Block], error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return p.blocks(data), nil
}

func (p *Parser) blocks(data []byte) iter.Seq[Block] {
	return func(yield func(Block) bool) {
		var (
			cur    *Block
			body   strings.Builder
			finish = func() bool {
				if cur == nil {
					return true
				}
				cur.Text = strings.TrimRight(body.String(), "\n")
				b := *cur
				cur = nil
				body.Reset()
				return yield(b)
			}
		)

		for n, line := range lines(data) {
			switch {
			case p.header.MatchString(line):
				if !finish() {
					return
				}
				cur = &Block{Header: line, Line: n}
			case cur != nil && p.terminates(line):
				if !finish() {
					return
				}
				continue
			}
			if cur == nil {
				continue
			}
			body.WriteString(line)
			body.WriteByte('\n')
			if p.unchecked.MatchString(line) {
				cur.Unchecked++
			}
		}
		finish()
	}
}

// CountRemaining returns the number of unchecked items left in path. When
// the document has blocks only items inside blocks count; otherwise every
// unchecked item in the file does.
func (p *Parser) CountRemaining(path string) (int, error) {
	data, err := readDocument(path)
	if err != nil {
		return 0, err
	}

	total, found := 0, false
	for b := range p.blocks(data) {
		found = true
		total += b.Unchecked
	}
	if found {
		return total, nil
	}

	for _, line := range lines(data) {
		if p.unchecked.MatchString(line) {
			total++
		}
	}
	return total, nil
}

// NextUncheckedBlock returns the first block with unchecked items. A
// document without blocks yields its first unchecked line as a one-line
// block. ok is false when nothing is left to do.
func (p *Parser) NextUncheckedBlock(path string) (block Block, ok bool, err error) {
	data, err := readDocument(path)
	if err != nil {
		return Block{}, false, err
	}

	found := false
	for b := range p.blocks(data) {
		found = true
		if b.Unchecked > 0 {
			return b, true, nil
		}
	}
	if found {
		return Block{}, false, nil
	}

	for n, line := range lines(data) {
		if p.unchecked.MatchString(line) {
			return Block{Text: line, Header: line, Line: n, Unchecked: 1}, true, nil
		}
	}
	return Block{}, false, nil
}

var defaultParser = NewParser()

// ParseBlocks parses path with the default delimiters.
func ParseBlocks(path string) (iter.Seq[Block], error) {
	return defaultParser.ParseBlocks(path)
}

// CountRemaining counts unchecked items in path with the default delimiters.
func CountRemaining(path string) (int, error) {
	return defaultParser.CountRemaining(path)
}

// NextUncheckedBlock finds the next block of work with the default delimiters.
func NextUncheckedBlock(path string) (Block, bool, error) {
	return defaultParser.NextUncheckedBlock(path)
}
