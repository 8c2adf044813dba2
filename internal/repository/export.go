package repository

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

const exportVersion = 1

// Export writes every connection in the portable binary format.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	conns, err := m.All(ctx)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	enc := &encoder{w: bw}
	enc.dword(exportVersion)
	enc.dword(len(conns))
	for _, conn := range conns {
		config, err := conn.Config.Encode()
		if err != nil {
			return err
		}
		enc.str(conn.Name)
		enc.str(conn.Description)
		enc.str(conn.ClassName)
		enc.str(config)
		enc.str(conn.ACLAuthority)
		enc.dword(conn.MaxConnections)
		enc.dword(len(conn.Throttles))
		for _, t := range conn.Throttles {
			enc.str(t.Match)
			enc.str(t.Description)
			enc.float(float32(t.Rate))
		}
	}
	if enc.err != nil {
		return fmt.Errorf("export connections: %w", enc.err)
	}
	return bw.Flush()
}

// Import reads connections written by Export and saves each of them.
func (m *Manager) Import(ctx context.Context, r io.Reader) error {
	dec := &decoder{r: bufio.NewReader(r)}
	version := dec.dword()
	if dec.err == nil && version != exportVersion {
		return fmt.Errorf("unknown repository connection configuration version: %d", version)
	}
	count := dec.dword()
	for i := 0; i < count && dec.err == nil; i++ {
		conn := store.Connection{
			Name:        dec.str(),
			Description: dec.str(),
			ClassName:   dec.str(),
		}
		config := dec.str()
		conn.ACLAuthority = dec.str()
		conn.MaxConnections = dec.dword()
		n := dec.dword()
		for j := 0; j < n && dec.err == nil; j++ {
			conn.Throttles = append(conn.Throttles, store.ThrottleSpec{
				Match:       dec.str(),
				Description: dec.str(),
				Rate:        float64(dec.float()),
			})
		}
		if dec.err != nil {
			break
		}
		params, err := crawler.DecodeConfigParams(config)
		if err != nil {
			return fmt.Errorf("import connection %s: %w", conn.Name, err)
		}
		conn.Config = params
		if err := m.Save(ctx, conn); err != nil {
			return err
		}
	}
	if dec.err != nil {
		return fmt.Errorf("import connections: %w", dec.err)
	}
	return nil
}

// encoder writes little-endian words; the first error sticks.
type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) write(v any) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) dword(v int) {
	if v < 0 || v > math.MaxInt32 {
		if e.err == nil {
			e.err = fmt.Errorf("dword out of range: %d", v)
		}
		return
	}
	e.write(uint32(v))
}

func (e *encoder) str(s string) {
	e.write(int32(len(s)))
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *encoder) float(f float32) {
	e.write(math.Float32bits(f))
}

// maxImportString bounds one string of an import stream.
const maxImportString = 16 << 20

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) read(v any) {
	if d.err == nil {
		d.err = binary.Read(d.r, binary.LittleEndian, v)
	}
}

func (d *decoder) dword() int {
	var v int32
	d.read(&v)
	if d.err == nil && v < 0 {
		d.err = fmt.Errorf("negative dword %d", v)
	}
	return int(v)
}

// str reads a length-prefixed string; length -1 encodes null, read as "".
func (d *decoder) str() string {
	var n int32
	d.read(&n)
	if d.err != nil || n <= 0 {
		if d.err == nil && n < -1 {
			d.err = fmt.Errorf("bad string length %d", n)
		}
		return ""
	}
	if n > maxImportString {
		d.err = fmt.Errorf("string length %d exceeds %d bytes", n, maxImportString)
		return ""
	}
	// The buffer grows with the bytes actually read, not the declared length.
	var sb strings.Builder
	if _, err := io.CopyN(&sb, d.r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return ""
	}
	return sb.String()
}

func (d *decoder) float() float32 {
	var bits uint32
	d.read(&bits)
	return math.Float32frombits(bits)
}
