package directory

import (
	"context"
	"fmt"
	"sync"

	"entitle/pkg/platform/sentinel"

	id "entitle/pkg/domain"
)

// StaticDirectory serves profiles and catalog names from memory. Used in
// tests and single-node deployments where the directory sync (out of scope
// here) populates it.
type StaticDirectory struct {
	mu         sync.RWMutex
	users      map[id.UserID]UserProfile
	systems    map[id.SystemID]string
	subsystems map[id.SubsystemID]string
	roles      map[id.RoleID]string
}

func NewStatic() *StaticDirectory {
	return &StaticDirectory{
		users:      make(map[id.UserID]UserProfile),
		systems:    make(map[id.SystemID]string),
		subsystems: make(map[id.SubsystemID]string),
		roles:      make(map[id.RoleID]string),
	}
}

// PutUser registers or replaces a profile.
func (d *StaticDirectory) PutUser(profile UserProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[profile.ID] = profile
}

// PutSystem registers a system display name.
func (d *StaticDirectory) PutSystem(systemID id.SystemID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.systems[systemID] = name
}

// PutSubsystem registers a subsystem display name.
func (d *StaticDirectory) PutSubsystem(subsystemID id.SubsystemID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subsystems[subsystemID] = name
}

// PutRole registers a role display name.
func (d *StaticDirectory) PutRole(roleID id.RoleID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[roleID] = name
}

func (d *StaticDirectory) LookupUser(_ context.Context, userID id.UserID) (UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	profile, ok := d.users[userID]
	if !ok {
		return UserProfile{}, fmt.Errorf("user %d: %w", userID, sentinel.ErrNotFound)
	}
	return profile, nil
}

func (d *StaticDirectory) FirstActiveAdmin(_ context.Context) (UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var (
		best  UserProfile
		found bool
	)
	for _, profile := range d.users {
		if !profile.Active || !profile.Admin {
			continue
		}
		// Deterministic pick: lowest user id wins.
		if !found || profile.ID < best.ID {
			best = profile
			found = true
		}
	}
	if !found {
		return UserProfile{}, fmt.Errorf("no active admin: %w", sentinel.ErrNotFound)
	}
	return best, nil
}

func (d *StaticDirectory) SystemName(_ context.Context, systemID id.SystemID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.systems[systemID]
	if !ok {
		return "", fmt.Errorf("system %d: %w", systemID, sentinel.ErrNotFound)
	}
	return name, nil
}

func (d *StaticDirectory) SubsystemName(_ context.Context, subsystemID id.SubsystemID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.subsystems[subsystemID]
	if !ok {
		return "", fmt.Errorf("subsystem %d: %w", subsystemID, sentinel.ErrNotFound)
	}
	return name, nil
}

func (d *StaticDirectory) RoleName(_ context.Context, roleID id.RoleID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.roles[roleID]
	if !ok {
		return "", fmt.Errorf("role %d: %w", roleID, sentinel.ErrNotFound)
	}
	return name, nil
}
