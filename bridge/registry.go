// Package bridge exposes an SD session and its register window over the
// framed serial protocol.
//
// The firmware side (Server) registers its commands in a Registry and
// publishes them as a zlib-compressed JSON dictionary. The host side
// (Client) fetches that dictionary with identify, then resolves every other
// command by name. Only identify and its response have fixed ids.
package bridge

import (
	"bytes"
	"errors"
	"sort"
	"strconv"
	"sync"

	"sdhost/protocol"
	"sdhost/tinycompress"
)

// ErrUnknownCommand is returned by Dispatch for an unregistered id
var ErrUnknownCommand = errors.New("bridge: unknown command")

// Handler decodes its own arguments from args
type Handler func(args *[]byte) error

// Command is one registered message. Responses have no handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "offset=%u value=%u"
	Handler Handler
}

// Signature returns the dictionary key: name followed by its format
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// Registry assigns command ids in registration order
type Registry struct {
	mu        sync.RWMutex
	commands  map[uint16]*Command
	byName    map[string]uint16
	nextID    uint16
	constants map[string]string

	dict []byte // compressed dictionary, nil until built
}

// NewRegistry returns a registry with the identify bootstrap pair
// registered as ids 0 and 1; identify serves the dictionary.
func NewRegistry(identify Handler) *Registry {
	r := &Registry{
		commands:  make(map[uint16]*Command),
		byName:    make(map[string]uint16),
		constants: make(map[string]string),
	}
	r.Register(MsgIdentifyResponse, "offset=%u data=%*s", nil)
	r.Register(MsgIdentify, "offset=%u count=%c", identify)
	return r
}

// Register adds a command and returns its id. Registering an existing name
// returns the original id.
func (r *Registry) Register(name, format string, handler Handler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.byName[name] = id
	r.dict = nil
	return id
}

// RegisterResponse adds a firmware-to-host message
func (r *Registry) RegisterResponse(name, format string) uint16 {
	return r.Register(name, format, nil)
}

// AddConstant publishes a name/value pair in the dictionary config section
func (r *Registry) AddConstant(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constants[name] = value
	r.dict = nil
}

// Lookup returns the command registered under id
func (r *Registry) Lookup(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// ID returns the id registered for name
func (r *Registry) ID(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler for id. Response ids are not dispatchable.
func (r *Registry) Dispatch(id uint16, args *[]byte) error {
	cmd, ok := r.Lookup(id)
	if !ok || cmd.Handler == nil {
		return ErrUnknownCommand
	}
	return cmd.Handler(args)
}

// Dictionary returns the compressed dictionary, building it on first use
func (r *Registry) Dictionary() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dict == nil {
		var buf bytes.Buffer
		raw := r.buildJSONLocked()
		w := tinycompress.NewWriter(&buf, len(raw))
		w.Write(raw)
		w.Close()
		r.dict = buf.Bytes()
	}
	return r.dict
}

// Chunk returns up to count dictionary bytes starting at offset
func (r *Registry) Chunk(offset uint32, count int) []byte {
	dict := r.Dictionary()
	if offset >= uint32(len(dict)) {
		return nil
	}
	end := int(offset) + count
	if end > len(dict) {
		end = len(dict)
	}
	return dict[offset:end]
}

// buildJSONLocked renders the dictionary with keys in sorted order so the
// output is stable for a given registration sequence
func (r *Registry) buildJSONLocked() []byte {
	out := make([]byte, 0, 1024)
	out = append(out, `{"version":`...)
	out = strconv.AppendQuote(out, protocol.Version)

	out = append(out, `,"config":{`...)
	names := make([]string, 0, len(r.constants))
	for name := range r.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, name)
		out = append(out, ':')
		out = strconv.AppendQuote(out, r.constants[name])
	}

	out = append(out, `},"commands":{`...)
	out = r.appendSection(out, true)
	out = append(out, `},"responses":{`...)
	out = r.appendSection(out, false)
	return append(out, `}}`...)
}

func (r *Registry) appendSection(out []byte, commands bool) []byte {
	first := true
	for id := uint16(0); id < r.nextID; id++ {
		cmd := r.commands[id]
		if (cmd.Handler != nil) != commands {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = strconv.AppendQuote(out, cmd.Signature())
		out = append(out, ':')
		out = strconv.AppendUint(out, uint64(id), 10)
	}
	return out
}
