// Package geoip resolves client addresses to ISO country codes for activity events.
package geoip

import (
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

// Resolver answers empty results when no database is loaded.
type Resolver struct {
	db *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// New opens the MaxMind database at dbPath. A missing or unreadable file
// disables lookups instead of failing startup.
func New(dbPath string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if dbPath == "" {
		return &Resolver{}
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		log.Warn("geoip database unavailable, country lookup disabled", zap.String("path", dbPath), zap.Error(err))
		return &Resolver{}
	}
	log.Info("geoip database loaded", zap.String("path", dbPath))
	return &Resolver{db: db}
}

func (r *Resolver) Enabled() bool { return r != nil && r.db != nil }

// Country returns the upper-case ISO code for ip, or "" when unknown.
func (r *Resolver) Country(ip string) string {
	if !r.Enabled() || ip == "" {
		return ""
	}
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return ""
	}
	var rec countryRecord
	if err := r.db.Lookup(addr, &rec); err != nil {
		return ""
	}
	return strings.ToUpper(rec.Country.ISOCode)
}

func (r *Resolver) Close() error {
	if r.Enabled() {
		return r.db.Close()
	}
	return nil
}
