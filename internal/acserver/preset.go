// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package acserver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tomtom215/acwrapper/internal/identity"
	"github.com/tomtom215/acwrapper/internal/ini"
)

const (
	serverConfigName = "server_cfg.ini"
	entryListName    = "entry_list.ini"
	taggedSuffix     = ".tmp"
)

// Assists is the driving-aid policy advertised to clients.
type Assists struct {
	ABSState            float64 `json:"absState"`
	TCState             float64 `json:"tcState"`
	FuelRate            float64 `json:"fuelRate"`
	DamageMultiplier    float64 `json:"damageMultiplier"`
	TyreWearRate        float64 `json:"tyreWearRate"`
	AllowedTyresOut     float64 `json:"allowedTyresOut"`
	StabilityAllowed    bool    `json:"stabilityAllowed"`
	AutoclutchAllowed   bool    `json:"autoclutchAllowed"`
	TyreBlanketsAllowed bool    `json:"tyreBlanketsAllowed"`
	ForceVirtualMirror  bool    `json:"forceVirtualMirror"`
}

// Preset is the configuration a wrapped server instance is started with,
// read from server_cfg.ini and entry_list.ini in the preset directory.
type Preset struct {
	Dir string

	// ServerConfigPath is the tagged copy of server_cfg.ini handed to the
	// wrapped server; EntryListPath is used as is.
	ServerConfigPath string
	EntryListPath    string

	// Name is the operator's server name without the " ℹ<port>" tag that
	// only the wrapped server's copy carries.
	Name             string
	TrackID          string
	Password         string
	AdminPassword    string
	Frequency        float64
	MaxContactsPerKm float64
	Assists          Assists

	// GUIDMode is set when the preset books slots or binds identities.
	GUIDMode bool
	// Slots holds the configured raw identity per entry list slot, "" when free.
	Slots []string

	// Durations lists BOOK, PRACTICE, QUALIFY, RACE lengths in seconds,
	// skipping sessions that are not configured.
	Durations []float64

	InitialAmbientTemp  float64
	InitialRoadTemp     float64
	InitialWeatherID    string
	InitialGrip         float64
	InitialGripTransfer float64
}

// Args returns the command-line arguments for the wrapped server.
func (p *Preset) Args() []string {
	return []string{"-c", p.ServerConfigPath, "-e", p.EntryListPath}
}

var nameLine = regexp.MustCompile(`(?m)\bNAME=([^\r\n]+)`)

// TagServerName copies server_cfg.ini to server_cfg.ini.tmp with
// " ℹ<wrapperPort>" appended to the first NAME= entry, and returns the
// path of the copy.
func TagServerName(serverConfigPath string, wrapperPort int) (string, error) {
	data, err := os.ReadFile(serverConfigPath)
	if err != nil {
		return "", fmt.Errorf("read server config: %w", err)
	}

	tagged := data
	if loc := nameLine.FindIndex(data); loc != nil {
		suffix := " " + identity.NameTagSeparator + strconv.Itoa(wrapperPort)
		tagged = make([]byte, 0, len(data)+len(suffix))
		tagged = append(tagged, data[:loc[1]]...)
		tagged = append(tagged, suffix...)
		tagged = append(tagged, data[loc[1]:]...)
	}

	out := serverConfigPath + taggedSuffix
	if err := os.WriteFile(out, tagged, 0o644); err != nil { //nolint:gosec // read by the wrapped server
		return "", fmt.Errorf("write tagged server config: %w", err)
	}
	return out, nil
}

// LoadPreset tags the server name and reads the preset in dir.
func LoadPreset(dir string, wrapperPort int) (*Preset, error) {
	cfgPath, err := TagServerName(filepath.Join(dir, serverConfigName), wrapperPort)
	if err != nil {
		return nil, err
	}
	cfg, err := ini.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}

	entryListPath := filepath.Join(dir, entryListName)
	entries, err := ini.Load(entryListPath)
	if err != nil {
		return nil, fmt.Errorf("load entry list: %w", err)
	}

	p := presetFromINI(cfg, entries)
	p.Dir = dir
	p.ServerConfigPath = cfgPath
	p.EntryListPath = entryListPath
	return p, nil
}

func presetFromINI(cfg, entries *ini.File) *Preset {
	server := cfg.Section("SERVER")
	weather := cfg.Section("WEATHER_0")
	track := cfg.Section("DYNAMIC_TRACK")

	p := &Preset{
		Name:             identity.StripNameTag(server.Get("NAME")),
		TrackID:          server.Get("TRACK"),
		Password:         server.Get("PASSWORD"),
		AdminPassword:    server.Get("ADMIN_PASSWORD"),
		Frequency:        server.FloatOr("CLIENT_SEND_INTERVAL_HZ", 0),
		MaxContactsPerKm: server.FloatOr("MAX_CONTACTS_PER_KM", -1),
		Assists: Assists{
			ABSState:            server.FloatOr("ABS_ALLOWED", 0),
			TCState:             server.FloatOr("TC_ALLOWED", 0),
			FuelRate:            server.FloatOr("FUEL_RATE", 0),
			DamageMultiplier:    server.FloatOr("DAMAGE_MULTIPLIER", 0),
			TyreWearRate:        server.FloatOr("TYRE_WEAR_RATE", 0),
			AllowedTyresOut:     server.FloatOr("ALLOWED_TYRES_OUT", 0),
			StabilityAllowed:    server.Flag("STABILITY_ALLOWED"),
			AutoclutchAllowed:   server.Flag("AUTOCLUTCH_ALLOWED"),
			TyreBlanketsAllowed: server.Flag("TYRE_BLANKETS_ALLOWED"),
			ForceVirtualMirror:  server.Flag("FORCE_VIRTUAL_MIRROR"),
		},
		GUIDMode:            cfg.Has("BOOK"),
		InitialAmbientTemp:  weather.FloatOr("BASE_TEMPERATURE_AMBIENT", 0),
		InitialRoadTemp:     weather.FloatOr("BASE_TEMPERATURE_ROAD", 0),
		InitialWeatherID:    weather.Get("GRAPHICS"),
		InitialGrip:         track.FloatOr("SESSION_START", 0),
		InitialGripTransfer: track.FloatOr("SESSION_TRANSFER", 0),
	}

	for i := 0; ; i++ {
		car := entries.Section("CAR_" + strconv.Itoa(i))
		if car == nil {
			break
		}
		guid := car.Get("GUID")
		p.Slots = append(p.Slots, guid)
		if guid != "" {
			p.GUIDMode = true
		}
	}

	for _, name := range []string{"BOOK", "PRACTICE", "QUALIFY", "RACE"} {
		minutes, ok := cfg.Section(name).Float("TIME")
		if ok && minutes > 0 {
			p.Durations = append(p.Durations, minutes*60)
		}
	}
	return p
}
