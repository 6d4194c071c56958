// Package mcu is the host end of the bridge: it connects to bridge
// firmware, fetches its dictionary and calls its commands by name.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"sdhost/bridge"
	"sdhost/host/serial"
	"sdhost/protocol"
)

// DefaultTimeout bounds the wait for a command's responses. It covers a
// full card bring-up on the firmware side.
const DefaultTimeout = 3 * time.Second

// Dictionary is the parsed firmware dictionary
type Dictionary struct {
	Version   string            `json:"version"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`

	responseNames map[uint16]string
}

// messageName returns the name part of a dictionary signature
func messageName(signature string) string {
	if i := strings.IndexByte(signature, ' '); i >= 0 {
		return signature[:i]
	}
	return signature
}

func lookup(section map[string]int, name string) (uint16, bool) {
	for sig, id := range section {
		if messageName(sig) == name {
			return uint16(id), true
		}
	}
	return 0, false
}

// CommandID returns the id of the named command
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	return lookup(d.Commands, name)
}

// ResponseID returns the id of the named response
func (d *Dictionary) ResponseID(name string) (uint16, bool) {
	return lookup(d.Responses, name)
}

// ResponseName returns the name registered for a response id
func (d *Dictionary) ResponseName(id uint16) string {
	return d.responseNames[id]
}

// MCU is a connection to bridge firmware. Calls are serialized.
type MCU struct {
	transport *protocol.HostTransport

	mu             sync.Mutex
	dictionary     *Dictionary
	dictionaryData []byte

	// Timeout bounds each call's wait for responses
	Timeout time.Duration
}

// New wraps an open port. The dictionary is not fetched yet.
func New(port io.ReadWriteCloser) *MCU {
	return &MCU{
		transport: protocol.NewHostTransport(port),
		Timeout:   DefaultTimeout,
	}
}

// Connect opens a serial device and retrieves the firmware dictionary
func Connect(cfg *serial.Config) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	m := New(port)
	// let firmware that was just enumerated settle
	time.Sleep(100 * time.Millisecond)
	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the transport and its port
func (m *MCU) Close() error {
	return m.transport.Close()
}

// RetrieveDictionary fetches the dictionary in identify chunks
func (m *MCU) RetrieveDictionary() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var raw bytes.Buffer
	for {
		chunk, err := m.identify(uint32(raw.Len()))
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", raw.Len(), err)
		}
		raw.Write(chunk)
		if len(chunk) < bridge.IdentifyChunk {
			break
		}
	}
	m.dictionaryData = raw.Bytes()

	zr, err := zlib.NewReader(bytes.NewReader(m.dictionaryData))
	if err != nil {
		return fmt.Errorf("failed to decompress dictionary: %w", err)
	}
	defer zr.Close()

	dict := &Dictionary{}
	if err := json.NewDecoder(zr).Decode(dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	dict.responseNames = make(map[uint16]string, len(dict.Responses))
	for sig, id := range dict.Responses {
		dict.responseNames[uint16(id)] = messageName(sig)
	}
	m.dictionary = dict
	return nil
}

// identify uses the bootstrap ids: identify is 1, identify_response is 0
func (m *MCU) identify(offset uint32) ([]byte, error) {
	m.transport.DiscardResponses()
	err := m.transport.SendCommand(1, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, bridge.IdentifyChunk)
	})
	if err != nil {
		return nil, err
	}

	resp, err := m.transport.ReceiveResponse(m.Timeout)
	if err != nil {
		return nil, err
	}
	id, args, err := resp.Command()
	if err != nil {
		return nil, err
	}
	if id != 0 {
		return nil, fmt.Errorf("unexpected response id %d to identify", id)
	}
	got, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		return nil, err
	}
	if got != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, got)
	}
	return protocol.DecodeVLQBytes(&args)
}

// Dictionary returns the parsed dictionary, nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionary
}

// Supports reports whether the firmware offers the named command
func (m *MCU) Supports(name string) bool {
	d := m.Dictionary()
	if d == nil {
		return false
	}
	_, ok := d.CommandID(name)
	return ok
}

// Collector receives each response of a call. It returns true once the
// final response has arrived.
type Collector func(name string, args []byte) (done bool, err error)

// SendCommand sends a command that has no response
func (m *MCU) SendCommand(name string, args func(protocol.OutputBuffer)) error {
	return m.Call(name, args, nil)
}

// Call sends a command and feeds its responses to collect until it
// reports done. A nil collect returns after the ACK.
func (m *MCU) Call(name string, args func(protocol.OutputBuffer), collect Collector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dictionary == nil {
		return errors.New("dictionary not loaded")
	}
	id, ok := m.dictionary.CommandID(name)
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	m.transport.DiscardResponses()
	if err := m.transport.SendCommand(id, args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if collect == nil {
		return nil
	}

	deadline := time.Now().Add(m.Timeout)
	for {
		resp, err := m.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		rid, rargs, err := resp.Command()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		done, err := collect(m.dictionary.ResponseName(rid), rargs)
		if err != nil || done {
			return err
		}
	}
}

// PrintDictionary writes a summary of the dictionary to w
func (m *MCU) PrintDictionary(w io.Writer) {
	d := m.Dictionary()
	if d == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintf(w, "Version: %s (%d bytes compressed)\n", d.Version, len(m.dictionaryData))
	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}

	printSection := func(title string, section map[string]int) {
		sigs := make([]string, 0, len(section))
		for sig := range section {
			sigs = append(sigs, sig)
		}
		sort.Slice(sigs, func(i, j int) bool { return section[sigs[i]] < section[sigs[j]] })
		fmt.Fprintf(w, "%s (%d):\n", title, len(sigs))
		for _, sig := range sigs {
			fmt.Fprintf(w, "  [%d] %s\n", section[sig], sig)
		}
	}
	printSection("Commands", d.Commands)
	printSection("Responses", d.Responses)
}
