package fastx

import (
	"bytes"
	"fmt"
)

// Read is one parsed sequencing read. ID is the byte offset of the record
// in the whole file, which makes it unique and reproducible across ranks.
// Qual is nil for FASTA input.
type Read struct {
	ID   uint64
	Seq  []byte
	Qual []byte
}

// Format of the input data.
type Format int

const (
	FormatFASTA Format = iota
	FormatFASTQ
)

// Parser iterates the records of one file block.
type Parser struct {
	data   []byte
	pos    int
	base   uint64 // file offset of data[0]
	format Format
}

// NewParser creates a parser over a file block. baseOffset is the offset of
// the block within the whole file and seeds the read ids. The format is
// detected from the first record marker.
func NewParser(data []byte, baseOffset uint64) (*Parser, error) {
	p := &Parser{data: data, base: baseOffset}
	p.skipBlank()

	if p.pos >= len(data) {
		// empty block parses as an empty FASTA stream
		p.format = FormatFASTA
		return p, nil
	}
	switch data[p.pos] {
	case '>':
		p.format = FormatFASTA
	case '@':
		p.format = FormatFASTQ
	default:
		return nil, fmt.Errorf("unrecognized record marker %q at offset %d", data[p.pos], baseOffset+uint64(p.pos))
	}
	return p, nil
}

// Format returns the detected input format.
func (p *Parser) Format() Format {
	return p.format
}

// Next returns the next record. The boolean return value is false when the
// block is exhausted.
func (p *Parser) Next() (Read, bool) {
	p.skipBlank()
	if p.pos >= len(p.data) {
		return Read{}, false
	}

	if p.format == FormatFASTQ {
		return p.nextFASTQ()
	}
	return p.nextFASTA()
}

// nextFASTQ parses one @header/seq/+/qual record
func (p *Parser) nextFASTQ() (Read, bool) {
	start := p.pos
	if p.data[p.pos] != '@' {
		return Read{}, false
	}
	p.line() // header

	seq := p.line()
	plus := p.line()
	qual := p.line()

	if len(plus) == 0 || plus[0] != '+' {
		return Read{}, false
	}
	if len(qual) > len(seq) {
		qual = qual[:len(seq)]
	}
	return Read{ID: p.base + uint64(start), Seq: seq, Qual: qual}, true
}

// nextFASTA parses one >header record with possibly folded sequence lines
func (p *Parser) nextFASTA() (Read, bool) {
	start := p.pos
	if p.data[p.pos] != '>' {
		return Read{}, false
	}
	p.line() // header

	// single-line sequences stay zero-copy, folded ones are joined
	var seq []byte
	for p.pos < len(p.data) && p.data[p.pos] != '>' {
		line := p.line()
		if seq == nil {
			seq = line
		} else {
			seq = append(append([]byte{}, seq...), line...)
		}
		p.skipBlank()
	}
	if len(seq) == 0 {
		return Read{}, false
	}
	return Read{ID: p.base + uint64(start), Seq: seq}, true
}

// line returns the next line without its terminator and advances past it
func (p *Parser) line() []byte {
	if p.pos >= len(p.data) {
		return nil
	}
	end := bytes.IndexByte(p.data[p.pos:], '\n')
	var line []byte
	if end < 0 {
		line = p.data[p.pos:]
		p.pos = len(p.data)
	} else {
		line = p.data[p.pos : p.pos+end]
		p.pos += end + 1
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

// skipBlank advances over empty lines
func (p *Parser) skipBlank() {
	for p.pos < len(p.data) && (p.data[p.pos] == '\n' || p.data[p.pos] == '\r') {
		p.pos++
	}
}
