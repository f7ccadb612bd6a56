/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

const chatSectionPrefix = "chat."

// Settings holds the CLI configuration loaded from an ini file.
type Settings struct {
	BaseURL  string
	RelayURL string
	Token    string

	RingTimeout    time.Duration
	RestartTimeout time.Duration
	RelayTimeout   time.Duration
	MaxICERestarts int

	MediaSource string
	Loopback    bool

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	RelayListen   string
	RelaySecret   string
	RelayTokenTTL time.Duration

	// Chats maps a chat id to its members, from [chat.<id>] sections.
	Chats map[string][]string
}

// loadIni reads path, or returns an empty file when path is empty.
func loadIni(path string) (*ini.File, error) {
	if path == "" {
		return ini.Empty(), nil
	}
	return ini.Load(path)
}

// LoadSettings reads configuration from the ini file and validates it.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{Chats: make(map[string][]string)}

	sec := cfg.Section("server")
	s.BaseURL = sec.Key("base_url").MustString("http://localhost:8080")
	s.RelayURL = sec.Key("relay_url").MustString("ws://localhost:8080/ws")
	s.Token = sec.Key("token").String()

	sec = cfg.Section("call")
	s.RingTimeout = sec.Key("ring_timeout").MustDuration(30 * time.Second)
	s.RestartTimeout = sec.Key("restart_timeout").MustDuration(15 * time.Second)
	s.RelayTimeout = sec.Key("relay_timeout").MustDuration(10 * time.Second)
	s.MaxICERestarts = sec.Key("max_ice_restarts").MustInt(1)

	sec = cfg.Section("media")
	s.MediaSource = sec.Key("source").In("synthetic", []string{"synthetic", "devices"})
	s.Loopback = sec.Key("loopback").MustBool(false)

	sec = cfg.Section("logging")
	s.LogLevel = sec.Key("level").MustString("info")
	s.LogFile = sec.Key("file").String()
	s.LogMaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	s.LogMaxBackups = sec.Key("max_backups").MustInt(1)

	sec = cfg.Section("devrelay")
	s.RelayListen = sec.Key("listen").MustString(":8080")
	s.RelaySecret = sec.Key("secret").String()
	s.RelayTokenTTL = sec.Key("token_ttl").MustDuration(24 * time.Hour)

	for _, sec := range cfg.Sections() {
		if !strings.HasPrefix(sec.Name(), chatSectionPrefix) {
			continue
		}
		id := strings.TrimPrefix(sec.Name(), chatSectionPrefix)
		if id == "" {
			return nil, fmt.Errorf("chat section without an id")
		}
		s.Chats[id] = sec.Key("members").Strings(",")
	}

	if s.MaxICERestarts < 0 {
		s.MaxICERestarts = -1
	}
	return s, nil
}

// ApplyEnv overrides the token and relay URL from the environment.
func (s *Settings) ApplyEnv(getenv func(string) string) {
	if v := getenv("MESHCALL_TOKEN"); v != "" {
		s.Token = v
	}
	if v := getenv("MESHCALL_RELAY_URL"); v != "" {
		s.RelayURL = v
	}
}

// ChatIDs returns the configured chat ids, sorted.
func (s *Settings) ChatIDs() []string {
	ids := make([]string, 0, len(s.Chats))
	for id := range s.Chats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
