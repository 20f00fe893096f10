package cmn

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// NodeType is the node_type option value: core, or combined (core and
// access co-located). The option file itself is the bespoke key-value
// format the original ibssa2 daemon reads (one "key value" pair per line,
// '#' comments, blank lines skipped) -- not ini/yaml/json, so LoadConfig
// uses a small hand-rolled scanner instead of a pack library (see
// DESIGN.md).
type NodeType string

const (
	NodeCore  NodeType = "core"
	NodeCombo NodeType = "combined" // core + access, co-located
)

type Config struct {
	// logging
	LogFile      string
	LogLevel     int
	LogFlush     time.Duration
	AccumLogFile string

	LockFile string

	NodeType NodeType

	SMDBPort  int
	PRDBPort  int
	AdminPort int

	SMDBDump      bool
	ErrSMDBDump   bool
	PRDBDump      bool
	SMDBDumpDir   string
	PRDBDumpDir   string

	SMDBDeltas bool // reserved; always forced to false, see DESIGN.md

	Keepalive time.Duration

	DistribTreeLevel uint32

	JoinTimeout time.Duration

	AddrPreload  bool
	AddrDataFile string
}

// Defaults mirror §6 and §4.2/§4.5 of the spec.
func Defaults() *Config {
	return &Config{
		LogLevel:         1,
		LogFlush:         time.Minute,
		NodeType:         NodeCore,
		SMDBPort:         7475,
		PRDBPort:         7476,
		AdminPort:        7477,
		Keepalive:        60 * time.Second,
		DistribTreeLevel: 0xffffffff,
		JoinTimeout:      30 * time.Second,
	}
}

// LoadConfig reads the key-value option file at path over the defaults.
// Unknown keys are rejected outright: a typo in the option file must fail
// startup loudly rather than be silently ignored (§6, §7 fatal-startup
// class).
func LoadConfig(path string) (*Config, error) {
	c := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, NewErrProtocol("config %s:%d: expected 'key value', got %q", path, lineno, line)
		}
		key, val := fields[0], strings.TrimSpace(fields[1])
		if err := c.set(key, val); err != nil {
			return nil, NewErrProtocol("config %s:%d: %v", path, lineno, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	c.SMDBDeltas = false // forced off, see spec.md §9 open questions
	return c, c.validate()
}

func (c *Config) set(key, val string) error {
	switch key {
	case "log_file":
		c.LogFile = val
	case "log_level":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.LogLevel = n
	case "log_flush":
		d, err := time.ParseDuration(val + "s")
		if err != nil {
			return err
		}
		c.LogFlush = d
	case "accum_log_file":
		c.AccumLogFile = val
	case "lock_file":
		c.LockFile = val
	case "node_type":
		switch val {
		case "core":
			c.NodeType = NodeCore
		case "combined":
			c.NodeType = NodeCombo
		default:
			return NewErrProtocol("unknown node_type %q", val)
		}
	case "smdb_port":
		return c.setInt(&c.SMDBPort, val)
	case "prdb_port":
		return c.setInt(&c.PRDBPort, val)
	case "admin_port":
		return c.setInt(&c.AdminPort, val)
	case "smdb_dump":
		return c.setBool(&c.SMDBDump, val)
	case "err_smdb_dump":
		return c.setBool(&c.ErrSMDBDump, val)
	case "prdb_dump":
		return c.setBool(&c.PRDBDump, val)
	case "smdb_dump_dir":
		c.SMDBDumpDir = val
	case "prdb_dump_dir":
		c.PRDBDumpDir = val
	case "smdb_deltas":
		return c.setBool(&c.SMDBDeltas, val)
	case "keepalive":
		d, err := time.ParseDuration(val + "s")
		if err != nil {
			return err
		}
		c.Keepalive = d
	case "distrib_tree_level":
		n, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return err
		}
		c.DistribTreeLevel = uint32(n)
	case "join_timeout":
		d, err := time.ParseDuration(val + "s")
		if err != nil {
			return err
		}
		c.JoinTimeout = d
	case "addr_preload":
		return c.setBool(&c.AddrPreload, val)
	case "addr_data_file":
		c.AddrDataFile = val
	default:
		return NewErrProtocol("unknown config key %q", key)
	}
	return nil
}

func (*Config) setInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func (*Config) setBool(dst *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func (c *Config) validate() error {
	if c.SMDBPort <= 0 || c.PRDBPort <= 0 || c.AdminPort <= 0 {
		return NewErrProtocol("listen ports must be positive")
	}
	if c.JoinTimeout <= 0 {
		return NewErrProtocol("join_timeout must be positive")
	}
	return nil
}
