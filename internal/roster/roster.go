// Package roster loads the competition roster (teams and services) from a
// YAML file and resolves submitting connections to team ids.
package roster

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/flagsink/flagsink/internal/model"
	"github.com/puzpuzpuz/xsync/v4"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape of the roster.
type File struct {
	Teams    []model.Team    `yaml:"teams"`
	Services []model.Service `yaml:"services"`
}

// Roster is the immutable team/service directory for one competition run.
// Lookup tables are built once at startup; reads are concurrent from every
// connection handler.
type Roster struct {
	teams    map[uint32]model.Team
	services map[uint32]model.Service

	// bySubnet maps a masked source address to its team id. xsync.Map keeps
	// hot-path lookups contention-free across connection goroutines.
	bySubnet *xsync.Map[netip.Addr, uint32]

	prefixV4 int
	prefixV6 int
}

// New builds a roster from parsed file contents.
// prefixV4/prefixV6 are the subnet prefix lengths used to truncate source
// addresses before lookup (the vulnbox and players share a team subnet).
func New(f File, prefixV4, prefixV6 int) (*Roster, error) {
	if len(f.Teams) == 0 {
		return nil, fmt.Errorf("roster: no teams defined")
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("roster: no services defined")
	}
	if prefixV4 < 0 || prefixV4 > 32 {
		return nil, fmt.Errorf("roster: invalid v4 prefix length %d", prefixV4)
	}
	if prefixV6 < 0 || prefixV6 > 128 {
		return nil, fmt.Errorf("roster: invalid v6 prefix length %d", prefixV6)
	}

	r := &Roster{
		teams:    make(map[uint32]model.Team, len(f.Teams)),
		services: make(map[uint32]model.Service, len(f.Services)),
		bySubnet: xsync.NewMap[netip.Addr, uint32](),
		prefixV4: prefixV4,
		prefixV6: prefixV6,
	}

	for _, team := range f.Teams {
		if team.ID == 0 {
			return nil, fmt.Errorf("roster: team %q: id must be positive", team.Name)
		}
		if _, dup := r.teams[team.ID]; dup {
			return nil, fmt.Errorf("roster: duplicate team id %d", team.ID)
		}
		r.teams[team.ID] = team

		if team.Subnet == "" {
			continue // team without a subnet is debug-listener only
		}
		key, err := r.subnetKeyFromString(team.Subnet)
		if err != nil {
			return nil, fmt.Errorf("roster: team %d: %w", team.ID, err)
		}
		if prev, loaded := r.bySubnet.LoadOrStore(key, team.ID); loaded {
			return nil, fmt.Errorf("roster: team %d subnet collides with team %d", team.ID, prev)
		}
	}

	for _, svc := range f.Services {
		if svc.ID == 0 {
			return nil, fmt.Errorf("roster: service %q: id must be positive", svc.Name)
		}
		if _, dup := r.services[svc.ID]; dup {
			return nil, fmt.Errorf("roster: duplicate service id %d", svc.ID)
		}
		if svc.FlagVariants == 0 {
			svc.FlagVariants = 1
		}
		r.services[svc.ID] = svc
	}

	return r, nil
}

// Load reads and validates a roster YAML file.
func Load(path string, prefixV4, prefixV6 int) (*Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("roster: parse %s: %w", path, err)
	}
	return New(f, prefixV4, prefixV6)
}

// ResolveProductionTeam maps a connecting source address to a team id by
// truncating it to the configured subnet prefix. The second return value is
// false when no team owns the subnet.
func (r *Roster) ResolveProductionTeam(addr netip.Addr) (uint32, bool) {
	key, err := r.subnetKey(addr)
	if err != nil {
		return 0, false
	}
	return r.bySubnet.Load(key)
}

// ResolveDebugTeam parses the first line of a debug connection as a numeric
// team id and checks it against the roster.
func (r *Roster) ResolveDebugTeam(line string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(line), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("roster: not a team id: %q", strings.TrimSpace(line))
	}
	if _, ok := r.teams[uint32(id)]; !ok {
		return 0, fmt.Errorf("roster: unknown team id %d", id)
	}
	return uint32(id), nil
}

// Team returns the roster entry for a team id.
func (r *Roster) Team(id uint32) (model.Team, bool) {
	t, ok := r.teams[id]
	return t, ok
}

// Service returns the roster entry for a service id.
func (r *Roster) Service(id uint32) (model.Service, bool) {
	s, ok := r.services[id]
	return s, ok
}

// TeamIDs returns every team id, in unspecified order. Used to size the
// per-team queue set at startup.
func (r *Roster) TeamIDs() []uint32 {
	ids := make([]uint32, 0, len(r.teams))
	for id := range r.teams {
		ids = append(ids, id)
	}
	return ids
}

// Teams returns every team sorted by id.
func (r *Roster) Teams() []model.Team {
	teams := make([]model.Team, 0, len(r.teams))
	for _, t := range r.teams {
		teams = append(teams, t)
	}
	slices.SortFunc(teams, func(a, b model.Team) int { return int(a.ID) - int(b.ID) })
	return teams
}

// Services returns every service sorted by id.
func (r *Roster) Services() []model.Service {
	services := make([]model.Service, 0, len(r.services))
	for _, s := range r.services {
		services = append(services, s)
	}
	slices.SortFunc(services, func(a, b model.Service) int { return int(a.ID) - int(b.ID) })
	return services
}

// TeamCount returns the number of teams.
func (r *Roster) TeamCount() int {
	return len(r.teams)
}

func (r *Roster) subnetKey(addr netip.Addr) (netip.Addr, error) {
	addr = addr.Unmap()
	bits := r.prefixV4
	if addr.Is6() {
		bits = r.prefixV6
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return netip.Addr{}, err
	}
	return prefix.Addr(), nil
}

func (r *Roster) subnetKeyFromString(subnet string) (netip.Addr, error) {
	// Accept either a CIDR ("10.1.7.0/24") or a bare address inside the
	// team subnet ("10.1.7.1"); both are truncated to the configured prefix.
	if strings.Contains(subnet, "/") {
		prefix, err := netip.ParsePrefix(subnet)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("invalid subnet %q: %w", subnet, err)
		}
		return r.subnetKey(prefix.Addr())
	}
	addr, err := netip.ParseAddr(subnet)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid subnet %q: %w", subnet, err)
	}
	return r.subnetKey(addr)
}
