package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Feature is an item of a feature list. Identity decides which desired
// entry corresponds to which observed entry; Equivalent decides whether a
// matched pair needs a change.
type Feature[T any] interface {
	Identity() string
	Equivalent(other T) bool
}

// FeatureRecord pairs the state the user asked for with the state last
// confirmed on the remote host.
type FeatureRecord[T Feature[T]] struct {
	Desired  List[T] `json:"desired"`
	Observed List[T] `json:"observed"`
}

type Change[T any] struct {
	From T `json:"from"`
	To   T `json:"to"`
}

type FeatureDiff[T any] struct {
	Add    []T         `json:"add,omitempty"`
	Change []Change[T] `json:"change,omitempty"`
	Remove []T         `json:"remove,omitempty"`
}

func (d FeatureDiff[T]) Empty() bool {
	return len(d.Add) == 0 && len(d.Change) == 0 && len(d.Remove) == 0
}

// Diff computes the operations that move Observed to Desired. Adds and
// changes follow desired order, removes follow observed order. Duplicate
// identities keep their first occurrence.
func (r FeatureRecord[T]) Diff() FeatureDiff[T] {
	var diff FeatureDiff[T]

	observed := make(map[string]T, len(r.Observed))
	for _, o := range r.Observed {
		if _, ok := observed[o.Identity()]; !ok {
			observed[o.Identity()] = o
		}
	}

	wanted := make(map[string]struct{}, len(r.Desired))
	for _, d := range r.Desired {
		id := d.Identity()
		if _, dup := wanted[id]; dup {
			continue
		}
		wanted[id] = struct{}{}
		o, ok := observed[id]
		switch {
		case !ok:
			diff.Add = append(diff.Add, d)
		case !d.Equivalent(o):
			diff.Change = append(diff.Change, Change[T]{From: o, To: d})
		}
	}

	seen := make(map[string]struct{}, len(r.Observed))
	for _, o := range r.Observed {
		id := o.Identity()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := wanted[id]; !ok {
			diff.Remove = append(diff.Remove, o)
		}
	}
	return diff
}

func (r FeatureRecord[T]) Settled() bool { return r.Diff().Empty() }
func (r FeatureRecord[T]) Pending() bool { return !r.Settled() }

// Upsert replaces the entry with the same identity or appends item.
func Upsert[T Feature[T]](l List[T], item T) List[T] {
	out := make(List[T], 0, len(l)+1)
	replaced := false
	for _, e := range l {
		if e.Identity() == item.Identity() {
			if !replaced {
				out = append(out, item)
				replaced = true
			}
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, item)
	}
	return out
}

// Without drops every entry with the given identity.
func Without[T Feature[T]](l List[T], identity string) List[T] {
	out := make(List[T], 0, len(l))
	for _, e := range l {
		if e.Identity() != identity {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entry with the given identity.
func Find[T Feature[T]](l List[T], identity string) (T, bool) {
	for _, e := range l {
		if e.Identity() == identity {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// ==================== FEATURE ITEMS ====================

type PluginSpec struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
	Enabled bool   `json:"enabled"`
}

func (p PluginSpec) Identity() string { return p.Name }

func (p PluginSpec) Equivalent(o PluginSpec) bool { return p.Enabled == o.Enabled }

type Domain struct {
	Hostname string `json:"hostname"`
}

func (d Domain) Identity() string { return d.Hostname }

func (d Domain) Equivalent(Domain) bool { return true }

type Volume struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	Created       bool   `json:"created"`
}

func (v Volume) Identity() string { return v.HostPath + ":" + v.ContainerPath }

func (v Volume) Equivalent(Volume) bool { return true }

type PortMapping struct {
	Scheme        string `json:"scheme"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
}

// Identity renders the mapping the way dokku prints it: scheme:host:container.
func (p PortMapping) Identity() string {
	return p.Scheme + ":" + strconv.Itoa(p.HostPort) + ":" + strconv.Itoa(p.ContainerPort)
}

func (p PortMapping) Equivalent(PortMapping) bool { return true }

func ParsePortMapping(s string) (PortMapping, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q", s)
	}
	host, err := strconv.Atoi(parts[1])
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid host port in %q", s)
	}
	container, err := strconv.Atoi(parts[2])
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid container port in %q", s)
	}
	return PortMapping{Scheme: parts[0], HostPort: host, ContainerPort: container}, nil
}

type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e EnvVar) Identity() string { return e.Key }

func (e EnvVar) Equivalent(o EnvVar) bool { return e.Value == o.Value }

type ProcessScale struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

func (p ProcessScale) Identity() string { return p.Type }

func (p ProcessScale) Equivalent(o ProcessScale) bool { return p.Quantity == o.Quantity }

// Link attaches a database service to an app.
type Link struct {
	App string `json:"app"`
}

func (l Link) Identity() string { return l.App }

func (l Link) Equivalent(Link) bool { return true }
