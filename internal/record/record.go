package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies one match-history record in the remote system.
// Valid IDs are strictly positive.
type ID int64

// ParseID parses a decimal record ID. Zero and negative values are rejected.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid record id %q: must be positive", s)
	}
	return ID(n), nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Record is a fetched payload ready to be persisted.
type Record struct {
	ID      ID
	Payload []byte // raw JSON as returned by the remote service
	Hash    string // hex SHA-256 of the canonical payload
}

// New validates payload as JSON and computes its content hash.
func New(id ID, payload []byte) (Record, error) {
	if id <= 0 {
		return Record{}, fmt.Errorf("record %d: id must be positive", id)
	}
	hash, err := Hash(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record %d: %w", id, err)
	}
	return Record{ID: id, Payload: payload, Hash: hash}, nil
}

// Patch is the game version a match was played on.
type Patch struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
}

func (p Patch) String() string {
	return fmt.Sprintf("%d.%d", p.Major, p.Minor)
}

// ParsePatch parses "MAJOR.MINOR".
func ParsePatch(s string) (Patch, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Patch{}, fmt.Errorf("invalid patch %q: want MAJOR.MINOR", s)
	}
	var p Patch
	var err error
	if p.Major, err = strconv.Atoi(major); err != nil || p.Major < 0 {
		return Patch{}, fmt.Errorf("invalid patch %q: bad major version", s)
	}
	if p.Minor, err = strconv.Atoi(minor); err != nil || p.Minor < 0 {
		return Patch{}, fmt.Errorf("invalid patch %q: bad minor version", s)
	}
	return p, nil
}

// Less reports whether p is an older patch than o.
func (p Patch) Less(o Patch) bool {
	if p.Major != o.Major {
		return p.Major < o.Major
	}
	return p.Minor < o.Minor
}

// ExtractPatch reads userGames[0].versionMajor/versionMinor from a payload.
// ok is false when the payload carries no participant rows.
func ExtractPatch(payload []byte) (patch Patch, ok bool, err error) {
	var body struct {
		UserGames []struct {
			VersionMajor *int `json:"versionMajor"`
			VersionMinor *int `json:"versionMinor"`
		} `json:"userGames"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&body); err != nil {
		return Patch{}, false, fmt.Errorf("decode payload: %w", err)
	}
	if len(body.UserGames) == 0 {
		return Patch{}, false, nil
	}
	g := body.UserGames[0]
	if g.VersionMajor == nil || g.VersionMinor == nil {
		return Patch{}, false, nil
	}
	return Patch{Major: *g.VersionMajor, Minor: *g.VersionMinor}, true, nil
}
