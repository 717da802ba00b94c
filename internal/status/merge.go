// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package status

import (
	"github.com/tomtom215/acwrapper/internal/acserver"
	"github.com/tomtom215/acwrapper/internal/identity"
)

// merge overlays sidecar state onto the upstream information document.
// info is modified in place and returned.
func (c *Cache) merge(info, players map[string]interface{}, st acserver.State, p *acserver.Preset) map[string]interface{} {
	c.mu.RLock()
	location := c.geo
	catalog := c.catalog
	c.mu.RUnlock()

	if players != nil {
		cars, _ := players["Cars"].([]interface{})
		for i, entry := range cars {
			car, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			if id, ok := st.SlotPublicID[i]; ok {
				car["ID"] = id
			} else {
				delete(car, "ID")
			}
			if p.GUIDMode {
				car["IsRequestedGUID"] = identity.Placeholder(st.SlotIdentity[i])
			} else {
				delete(car, "IsRequestedGUID")
			}
		}
		info["players"] = players
	}

	if name, ok := info["name"].(string); ok {
		info["name"] = identity.StripNameTag(name)
	}

	info["ip"] = ""
	if location != nil {
		info["ip"] = location.IP
		info["city"] = location.City
		if location.Country != "" && location.CountryCode != "" {
			info["country"] = []string{location.Country, location.CountryCode}
		}
	}

	info["session"] = st.SessionType
	durations := p.Durations
	if durations == nil {
		durations = []float64{}
	}
	info["durations"] = durations

	if catalog != nil {
		listing := catalog.Filtered()
		if c.opts.DownloadPasswordOnly {
			listing["password"] = true
		} else {
			delete(listing, "password")
		}
		info["content"] = listing
	}

	if track, _ := info["track"].(string); track != p.TrackID {
		info["trackBase"] = p.TrackID
	}

	if c.opts.PublishPasswordChecksum && p.Password != "" {
		info["passwordChecksum"] = []string{
			identity.PasswordChecksum(p.Name, p.Password),
			identity.PasswordChecksum(p.Name, p.AdminPassword),
		}
	}

	if p.MaxContactsPerKm != -1 {
		info["maxContactsPerKm"] = p.MaxContactsPerKm
	}

	info["frequency"] = p.Frequency
	info["assists"] = p.Assists
	info["wrappedPort"] = c.opts.WrapperPort
	info["ambientTemperature"] = st.AmbientTemp
	info["roadTemperature"] = st.RoadTemp
	info["currentWeatherId"] = st.WeatherID
	info["windSpeed"] = st.WindSpeed
	info["windDirection"] = st.WindDirection
	info["grip"] = st.Grip
	info["gripTransfer"] = st.GripTransfer

	if c.opts.Description != "" {
		info["description"] = c.opts.Description
	}
	return info
}
