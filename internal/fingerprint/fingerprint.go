// Package fingerprint derives soft anti-abuse hashes from locally observable
// environment attributes. The hashes are advisory: they are recorded with
// leaderboard entries for later analysis and never block play.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/fnv"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const delimiter = "|"

// Attributes is the fixed, ordered set of low-entropy signals that feed both
// hashes. Zero values are hashed as-is; an attribute a headless host cannot
// observe still occupies its slot so the concatenation order is stable.
type Attributes struct {
	Platform     string
	Language     string
	Timezone     string
	ScreenWidth  int
	ScreenHeight int
	ColorDepth   int
	PixelRatio   float64
	Cores        int
	MemoryGB     int
	Touch        bool
	UserAgent    string
	InstallID    string
}

// Collector gathers attributes from the running environment.
type Collector interface {
	Collect() (Attributes, error)
}

// HostCollector observes what a headless Go client can: build platform,
// locale, timezone, logical cores, plus the caller-supplied user agent and
// the persisted install id.
type HostCollector struct {
	UserAgent string
	InstallID string
}

func (c HostCollector) Collect() (Attributes, error) {
	return Attributes{
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Language:  os.Getenv("LANG"),
		Timezone:  time.Now().Location().String(),
		Cores:     runtime.NumCPU(),
		UserAgent: c.UserAgent,
		InstallID: c.InstallID,
	}, nil
}

// Generator produces the device- and machine-level hashes. The two differ
// only in whether the user agent participates.
type Generator struct {
	collector Collector
	digest    func() hash.Hash
	now       func() time.Time
}

func NewGenerator(collector Collector) *Generator {
	return &Generator{
		collector: collector,
		digest:    func() hash.Hash { return sha256.New() },
		now:       time.Now,
	}
}

// Device returns the device-level fingerprint, salted by salt. Includes the
// user agent.
func (g *Generator) Device(salt string) string {
	return g.hash(salt, true)
}

// Machine returns the machine-level fingerprint, salted by salt. Excludes
// the user agent so it survives client upgrades.
func (g *Generator) Machine(salt string) string {
	return g.hash(salt, false)
}

func (g *Generator) hash(salt string, withUserAgent bool) string {
	attrs, err := g.collector.Collect()
	if err != nil {
		// Collection failure must not fail the caller; hash a degenerate
		// string carrying the salt and the current time instead.
		return g.encode(fmt.Sprintf("fallback%s%s%s%d", delimiter, salt, delimiter, g.now().UnixMilli()))
	}

	parts := make([]string, 0, 12)
	if withUserAgent {
		parts = append(parts, attrs.UserAgent)
	}
	parts = append(parts,
		attrs.Platform,
		attrs.Language,
		attrs.Timezone,
		strconv.Itoa(attrs.ScreenWidth)+"x"+strconv.Itoa(attrs.ScreenHeight),
		strconv.Itoa(attrs.ColorDepth),
		strconv.FormatFloat(attrs.PixelRatio, 'f', -1, 64),
		strconv.Itoa(attrs.Cores),
		strconv.Itoa(attrs.MemoryGB),
		strconv.FormatBool(attrs.Touch),
		attrs.InstallID,
		salt,
	)
	return g.encode(strings.Join(parts, delimiter))
}

func (g *Generator) encode(input string) string {
	if g.digest != nil {
		if h := g.digest(); h != nil {
			h.Write([]byte(input))
			return hex.EncodeToString(h.Sum(nil))
		}
	}
	// Non-cryptographic fallback: functional, not collision resistant.
	h := fnv.New64a()
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}
