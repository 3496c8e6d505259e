package redjob

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DSN is the parsed form of a KeyStore connection string:
//
//	[scheme://][user[:pass]@]host[:port][/db][?k=v&...]
//
// scheme is one of "redis" or "tcp"; Port defaults to 6379 when absent. The
// actual Redis transport (redigo) is configured from this struct but DSN
// parsing itself is a thin standard-library affair: no repo in the corpus
// ships a dedicated DSN parser, so this stays on net/url-adjacent manual
// parsing rather than pulling in a library for it.
type DSN struct {
	Scheme  string
	User    string
	Pass    string
	HasPass bool
	Host    string
	Port    int
	DB      int
	HasDB   bool
	Opts    map[string]string
}

const defaultRedisPort = 6379

// ParseDSN parses a Redis connection string of the form
// [scheme://][user[:pass]@]host[:port][/db][?k=v&...]. A missing scheme
// defaults to "redis"; a missing port defaults to 6379.
func ParseDSN(s string) (*DSN, error) {
	d := &DSN{Scheme: "redis", Port: defaultRedisPort, Opts: map[string]string{}}
	rest := s

	if idx := strings.Index(rest, "://"); idx >= 0 {
		scheme := rest[:idx]
		if scheme != "redis" && scheme != "tcp" {
			return nil, &ConfigError{Msg: fmt.Sprintf("dsn: unsupported scheme %q", scheme)}
		}
		d.Scheme = scheme
		rest = rest[idx+3:]
	}

	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		query := rest[idx+1:]
		rest = rest[:idx]
		for _, kv := range strings.Split(query, "&") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, &ConfigError{Msg: fmt.Sprintf("dsn: malformed query parameter %q", kv)}
			}
			d.Opts[parts[0]] = parts[1]
		}
	}

	if idx := strings.Index(rest, "@"); idx >= 0 {
		userinfo := rest[:idx]
		rest = rest[idx+1:]

		if ci := strings.IndexByte(userinfo, ':'); ci >= 0 {
			d.User = userinfo[:ci]
			d.Pass = userinfo[ci+1:]
			d.HasPass = true
			if d.Pass == "" {
				return nil, &ConfigError{Msg: "dsn: password marker present with no password"}
			}
		} else {
			d.User = userinfo
		}
	}

	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		dbStr := rest[idx+1:]
		rest = rest[:idx]
		if dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, &ConfigError{Msg: fmt.Sprintf("dsn: invalid db %q", dbStr)}
			}
			d.DB = db
			d.HasDB = true
		}
	}

	if idx := strings.LastIndexByte(rest, ':'); idx >= 0 {
		host := rest[:idx]
		portStr := rest[idx+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("dsn: invalid port %q", portStr)}
		}
		d.Host = host
		d.Port = port
	} else {
		d.Host = rest
	}

	if d.Host == "" {
		return nil, &ConfigError{Msg: "dsn: missing host"}
	}
	if len(d.Opts) == 0 {
		d.Opts = nil
	}

	return d, nil
}

// FormatDSN renders d back into the grammar ParseDSN accepts, deterministic
// enough that ParseDSN(FormatDSN(x)) reproduces x field-for-field.
func FormatDSN(d *DSN) string {
	var b strings.Builder
	b.WriteString(d.Scheme)
	b.WriteString("://")

	if d.User != "" || d.HasPass {
		b.WriteString(d.User)
		if d.HasPass {
			b.WriteByte(':')
			b.WriteString(d.Pass)
		}
		b.WriteByte('@')
	}

	b.WriteString(d.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(d.Port))

	if d.HasDB {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(d.DB))
	}

	if len(d.Opts) > 0 {
		keys := make([]string, 0, len(d.Opts))
		for k := range d.Opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(d.Opts[k])
		}
	}

	return b.String()
}
