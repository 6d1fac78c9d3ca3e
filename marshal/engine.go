package marshal

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/typetable"
)

// Engine converts values across the boundary for one module generation.
// It holds the generation's validated type table, the shared proxy handle
// table, and the host's object factory. Engines are cheap and stateless;
// all per-call state lives in buffers and builders.
type Engine struct {
	table   *typetable.Table
	handles *host.Table
	factory host.Factory
}

// NewEngine creates a marshalling engine over a validated type table.
func NewEngine(table *typetable.Table, handles *host.Table, factory host.Factory) *Engine {
	return &Engine{table: table, handles: handles, factory: factory}
}

// Table returns the engine's validated type table.
func (e *Engine) Table() *typetable.Table { return e.table }

// Handles returns the proxy handle table.
func (e *Engine) Handles() *host.Table { return e.handles }

func putU32(data []byte, at uint32, v uint32) {
	binary.LittleEndian.PutUint32(data[at:at+4], v)
}

func putU64(data []byte, at uint32, v uint64) {
	binary.LittleEndian.PutUint64(data[at:at+8], v)
}

func getU32(data []byte, at uint32) uint32 {
	return binary.LittleEndian.Uint32(data[at : at+4])
}

func getU64(data []byte, at uint32) uint64 {
	return binary.LittleEndian.Uint64(data[at : at+8])
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// keyString renders a mapping key for error paths.
func keyString(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%v", k)
}
