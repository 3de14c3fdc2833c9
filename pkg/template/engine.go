package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pepolabs/hookpipe/pkg/core"
)

var (
	ErrUnknownKind    = errors.New("hookpipe: unknown notification kind")
	ErrUnknownVersion = errors.New("hookpipe: unknown heading version")
)

// Entity is the type of object a heading include refers to. Includes are
// rendered by the client (display name, avatar) rather than substituted.
type Entity string

const (
	EntityUser    Entity = "user"
	EntityVideo   Entity = "video"
	EntityChannel Entity = "channel"
)

// Var binds a template slot or output field to a path in the event.
type Var struct {
	Path     string
	Entity   Entity
	Optional bool
}

// Heading is one version of a notification's display text. Slots are
// written as {{name}} and bound through Vars.
type Heading struct {
	Text string
	Vars map[string]Var
}

// ImageSource selects whose picture is shown next to a notification.
type ImageSource string

const (
	ImageNone    ImageSource = ""
	ImageActor   ImageSource = "actor"
	ImageSubject ImageSource = "subject"
)

// DeepLink is the screen a notification opens.
type DeepLink struct {
	Target string
	Params map[string]Var
}

// VersionSelector picks a heading version for one recipient.
type VersionSelector func(event map[string]any, recipientID uint64) int

// KindConfig is the template of one notification kind.
type KindConfig struct {
	Headings       map[int]Heading
	DefaultVersion int
	SelectVersion  VersionSelector
	Payload        map[string]Var
	Image          ImageSource
	Goto           DeepLink
}

// Config maps every notification kind to its template.
type Config map[core.NotificationKind]KindConfig

// ValidationError lists the parameters an event failed to provide. Missing
// paths are absent from the event; Invalid paths are present but null.
type ValidationError struct {
	Kind    core.NotificationKind
	Version int
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("hookpipe: %s v%d: %s", e.Kind, e.Version, strings.Join(parts, "; "))
}

// Include is an entity reference kept as a placeholder in the heading.
type Include struct {
	Entity Entity `json:"entity"`
	ID     any    `json:"id"`
}

// Image identifies the picture shown with a notification.
type Image struct {
	Source ImageSource `json:"source"`
	UserID any         `json:"user_id,omitempty"`
}

// Goto is a resolved deep link.
type Goto struct {
	Target string         `json:"target"`
	Params map[string]any `json:"params,omitempty"`
}

// Rendered is the display form of one notification for one recipient.
type Rendered struct {
	Kind     core.NotificationKind `json:"kind"`
	Version  int                   `json:"version"`
	Heading  string                `json:"heading"`
	Includes map[string]Include    `json:"includes,omitempty"`
	Payload  map[string]any        `json:"payload"`
	Image    Image                 `json:"image"`
	Goto     Goto                  `json:"goto"`
}

// Text returns the heading with every include placeholder replaced by
// name(slot, include). Unresolved slots fall back to the entity type.
func (r *Rendered) Text(name func(slot string, inc Include) string) string {
	if len(r.Includes) == 0 {
		return r.Heading
	}
	pairs := make([]string, 0, 2*len(r.Includes))
	for slot, inc := range r.Includes {
		v := ""
		if name != nil {
			v = name(slot, inc)
		}
		if v == "" {
			v = string(inc.Entity)
		}
		pairs = append(pairs, "{{"+slot+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(r.Heading)
}

// Engine renders notifications from a Config.
type Engine struct {
	cfg Config
}

// New creates an engine over cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Kind returns the template of kind.
func (e *Engine) Kind(kind core.NotificationKind) (KindConfig, bool) {
	kc, ok := e.cfg[kind]
	return kc, ok
}

// Kinds returns the configured kinds, sorted.
func (e *Engine) Kinds() []core.NotificationKind {
	out := make([]core.NotificationKind, 0, len(e.cfg))
	for k := range e.cfg {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Version selects the heading version of kind for recipientID.
func (e *Engine) Version(kind core.NotificationKind, event map[string]any, recipientID uint64) (int, error) {
	kc, ok := e.cfg[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	v := kc.DefaultVersion
	if kc.SelectVersion != nil {
		v = kc.SelectVersion(event, recipientID)
	}
	if _, ok := kc.Headings[v]; !ok {
		return 0, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, kind, v)
	}
	return v, nil
}

// Validate checks that every parameter referenced by the heading version,
// the payload extractors and the deep link resolves in event. It returns a
// *ValidationError listing the missing and invalid paths.
func (e *Engine) Validate(kind core.NotificationKind, version int, event map[string]any) error {
	kc, h, err := e.heading(kind, version)
	if err != nil {
		return err
	}

	missing := map[string]struct{}{}
	invalid := map[string]struct{}{}
	check := func(vars map[string]Var) {
		for _, v := range vars {
			if v.Optional {
				continue
			}
			switch _, res := lookup(event, v.Path); res {
			case absent:
				missing[v.Path] = struct{}{}
			case undefined:
				invalid[v.Path] = struct{}{}
			}
		}
	}
	check(h.Vars)
	check(kc.Payload)
	check(kc.Goto.Params)

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	return &ValidationError{
		Kind:    kind,
		Version: version,
		Missing: sortedKeys(missing),
		Invalid: sortedKeys(invalid),
	}
}

// Render validates event and produces its display form.
func (e *Engine) Render(kind core.NotificationKind, version int, event map[string]any) (*Rendered, error) {
	if err := e.Validate(kind, version, event); err != nil {
		return nil, err
	}
	kc, h, _ := e.heading(kind, version)

	out := &Rendered{
		Kind:    kind,
		Version: version,
		Payload: extract(kc.Payload, event),
		Goto:    Goto{Target: kc.Goto.Target, Params: extract(kc.Goto.Params, event)},
		Image:   Image{Source: kc.Image},
	}

	pairs := make([]string, 0, 2*len(h.Vars))
	for slot, v := range h.Vars {
		val, ok := Lookup(event, v.Path)
		if v.Entity != "" {
			if ok {
				if out.Includes == nil {
					out.Includes = make(map[string]Include)
				}
				out.Includes[slot] = Include{Entity: v.Entity, ID: val}
				continue
			}
			// Optional entity without a value collapses to nothing.
		}
		pairs = append(pairs, "{{"+slot+"}}", Format(val))
	}
	out.Heading = strings.TrimSpace(strings.NewReplacer(pairs...).Replace(h.Text))

	switch kc.Image {
	case ImageActor:
		out.Image.UserID, _ = Lookup(event, "actor_ids.0")
	case ImageSubject:
		out.Image.UserID, _ = Lookup(event, "subject_user_id")
	}
	return out, nil
}

func (e *Engine) heading(kind core.NotificationKind, version int) (KindConfig, Heading, error) {
	kc, ok := e.cfg[kind]
	if !ok {
		return KindConfig{}, Heading{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	h, ok := kc.Headings[version]
	if !ok {
		return KindConfig{}, Heading{}, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, kind, version)
	}
	return kc, h, nil
}

func extract(vars map[string]Var, event map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for field, v := range vars {
		if val, ok := Lookup(event, v.Path); ok {
			out[field] = val
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
