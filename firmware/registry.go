package firmware

import (
	"fmt"
	"strings"
	"sync"
)

// CommandHandler decodes its own arguments from data.
type CommandHandler func(data *[]byte) error

// Command is one entry of the dictionary. Responses (device to host) have
// no handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "oid=%c data=%*s"
	Handler CommandHandler
}

// Signature returns the dictionary key, name followed by its format.
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// Registry assigns message IDs in registration order.
type Registry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Register adds a command and returns its ID. Registering a name twice
// returns the first ID.
func (r *Registry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cmd, ok := r.byName[name]; ok {
		return cmd.ID
	}
	cmd := &Command{ID: uint16(len(r.commands)), Name: name, Format: format, Handler: handler}
	r.commands = append(r.commands, cmd)
	r.byName[name] = cmd
	return cmd.ID
}

// RegisterResponse adds a device-to-host message.
func (r *Registry) RegisterResponse(name, format string) uint16 {
	return r.Register(name, format, nil)
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler registered under id.
func (r *Registry) Dispatch(id uint16, data *[]byte) error {
	r.mu.RLock()
	var cmd *Command
	if int(id) < len(r.commands) {
		cmd = r.commands[id]
	}
	r.mu.RUnlock()

	if cmd == nil {
		return fmt.Errorf("unknown command ID %d", id)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("%s is a response, not a command", cmd.Name)
	}
	return cmd.Handler(data)
}

// CommandsAndResponses splits the registry into the two dictionary maps.
func (r *Registry) CommandsAndResponses() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands = make(map[string]int)
	responses = make(map[string]int)
	for _, cmd := range r.commands {
		if cmd.Handler != nil {
			commands[cmd.Signature()] = int(cmd.ID)
		} else {
			responses[cmd.Signature()] = int(cmd.ID)
		}
	}
	return commands, responses
}

// String lists the registry one signature per line, in ID order.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, cmd := range r.commands {
		sb.WriteString(cmd.Signature())
		sb.WriteByte('\n')
	}
	return sb.String()
}
