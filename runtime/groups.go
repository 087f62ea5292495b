package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const minGroupMembers = 2

// Recipient is a live member connection captured under the registry lock.
type Recipient struct {
	Username string
	Sink     contract.Sink
}

// CreateGroup applies the strict membership policy atomically:
// every requested member must be present and at least two must remain.
// Nothing is created when the request is rejected.
func (r *Registry) CreateGroup(name string, requested ...string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.ErrNameRequired
	}
	members := domain.ParseMembers(requested...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; ok {
		return nil, errors.ErrGroupAlreadyExists
	}
	valid, invalid := lo.FilterReject(members, func(m string, _ int) bool {
		_, ok := r.presence[m]
		return ok
	})
	if len(invalid) > 0 {
		return nil, &errors.InvalidUsersError{Invalid: invalid, Available: r.usersLocked()}
	}
	if len(valid) == 0 {
		return nil, errors.ErrNoValidUsers
	}
	if len(valid) < minGroupMembers {
		return nil, errors.ErrInsufficientMembers
	}
	r.groups[name] = &domain.Group{Name: name, Members: valid}
	return slices.Clone(valid), nil
}

// OpenGroup creates an empty group that users join one by one.
func (r *Registry) OpenGroup(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.ErrNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[name]; ok {
		return errors.ErrGroupAlreadyExists
	}
	r.groups[name] = &domain.Group{Name: name}
	return nil
}

// JoinGroup adds username to the group. Joining twice is a no-op.
func (r *Registry) JoinGroup(name, username string) ([]string, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	if name == "" || username == "" {
		return nil, errors.ErrNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[name]
	if !ok {
		return nil, errors.ErrGroupNotFound
	}
	if !group.Has(username) {
		group.Members = append(group.Members, username)
	}
	return slices.Clone(group.Members), nil
}

func (r *Registry) DeleteGroup(name string) error {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[name]; !ok {
		return errors.ErrGroupNotFound
	}
	delete(r.groups, name)
	return nil
}

func (r *Registry) Group(name string) (domain.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[strings.TrimSpace(name)]
	if !ok {
		return domain.Group{}, false
	}
	return domain.Group{Name: group.Name, Members: slices.Clone(group.Members)}, true
}

// Groups returns every group sorted by name, members copied.
func (r *Registry) Groups() []domain.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]domain.Group, 0, len(r.groups))
	for _, group := range r.groups {
		groups = append(groups, domain.Group{Name: group.Name, Members: slices.Clone(group.Members)})
	}
	slices.SortFunc(groups, func(a, b domain.Group) int { return strings.Compare(a.Name, b.Name) })
	return groups
}

// Recipients snapshots the live connections of a group's members except exclude.
// Members without a connection are skipped. Callers push outside the lock.
func (r *Registry) Recipients(name, exclude string) ([]Recipient, []string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[strings.TrimSpace(name)]
	if !ok {
		return nil, nil, errors.ErrGroupNotFound
	}
	var recipients []Recipient
	for _, member := range group.Members {
		if member == exclude {
			continue
		}
		if sink, ok := r.connections[member]; ok {
			recipients = append(recipients, Recipient{Username: member, Sink: sink})
		}
	}
	return recipients, slices.Clone(group.Members), nil
}
