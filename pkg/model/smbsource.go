package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"iter"
	"net/url"
	"path/filepath"
	"strings"
)

func init() {
	RegisterSourceType("smb", smbSourceFromJSON)
	RegisterSourceType("smbc", smbSourceFromJSON)
	RegisterURLScheme("smb", smbSourceFromURL)
	RegisterURLScheme("smbc", smbSourceFromURL)
	RegisterHandleType("smb", smbHandleFromJSON)
	opener := func(ctx context.Context, s Source, sm SourceManager) (any, func() error, error) {
		src, ok := s.(*SMBSource)
		if !ok || src.mountPoint == "" {
			return nil, nil, &UnavailableError{Where: "smb", Err: fmt.Errorf("share not mounted")}
		}
		return nil, nil, nil
	}
	RegisterOpener("smb", opener)
	RegisterOpener("smbc", opener)
}

// SMBSource describes a Windows/Samba share, named by UNC components rather
// than a local mount path. Two access modes share this type: "smbc" shares
// are already mounted at MountPoint and are read exactly like a FileSource;
// "smb" shares are reached directly over the SMB protocol, which this
// module implements by requiring the same pre-established mount (direct
// protocol dialing is not wired; see DESIGN.md) rather than inventing a
// client.
type SMBSource struct {
	UNC        string // "//host/share/sub/path"
	Workgroup  string
	User       string
	mountPoint string
}

// NewSMBSource builds an SMBSource. mountPoint is the local path the share
// is expected to be mounted at when Handles/Follow are called.
func NewSMBSource(unc, workgroup, user, mountPoint string) *SMBSource {
	return &SMBSource{UNC: unc, Workgroup: workgroup, User: user, mountPoint: mountPoint}
}

func (s *SMBSource) Type() string { return "smb" }

func (s *SMBSource) EqualityProperties() map[string]any {
	return map[string]any{"unc": s.UNC, "user": s.User}
}

func (s *SMBSource) Censor() Source {
	return &SMBSource{UNC: s.UNC, Workgroup: s.Workgroup, mountPoint: s.mountPoint}
}

func (s *SMBSource) YieldsIndependentSources() bool { return false }

func (s *SMBSource) Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		if _, err := sm.Open(ctx, s); err != nil {
			yield(nil, err)
			return
		}
		err := filepath.WalkDir(s.mountPoint, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(s.mountPoint, p)
			if relErr != nil {
				return relErr
			}
			h := &SMBHandle{Base: NewBase(s, filepath.ToSlash(rel))}
			if !yield(h, nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && err != filepath.SkipAll {
			yield(nil, NewUnavailableError(fmt.Sprintf("smb:%s", s.UNC), err))
		}
	}
}

func (s *SMBSource) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		UNC       string `json:"unc"`
		Workgroup string `json:"workgroup,omitempty"`
		User      string `json:"user,omitempty"`
	}{Type: s.Type(), UNC: s.UNC, Workgroup: s.Workgroup, User: s.User})
}

func smbSourceFromJSON(data []byte) (Source, error) {
	var v struct {
		UNC       string `json:"unc"`
		Workgroup string `json:"workgroup"`
		User      string `json:"user"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.UNC == "" {
		return nil, &DeserialisationError{TypeLabel: "smb", Field: "unc", Err: fmt.Errorf("empty unc")}
	}
	return NewSMBSource(v.UNC, v.Workgroup, v.User, ""), nil
}

func smbSourceFromURL(u *url.URL) (Source, error) {
	unc := "//" + u.Host + u.Path
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	return NewSMBSource(unc, "", user, ""), nil
}

// SMBHandle names one file beneath an SMBSource.
type SMBHandle struct {
	Base
}

func (h *SMBHandle) PresentationURL() string {
	src, ok := h.Source().(*SMBSource)
	if !ok {
		return ""
	}
	return "smb:" + src.UNC + "/" + EscapePath(h.RelativePath())
}

func (h *SMBHandle) Presentation() string {
	return strings.TrimPrefix(h.PresentationURL(), "smb:")
}

func (h *SMBHandle) Censor() Handle {
	return &SMBHandle{Base: NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *SMBHandle) Crunch(hash bool) ([]byte, error) { return Crunch(h, hash) }

func (h *SMBHandle) Follow(ctx context.Context, sm SourceManager) (Resource, error) {
	if _, err := sm.Open(ctx, h.Source()); err != nil {
		return nil, err
	}
	src, ok := h.Source().(*SMBSource)
	if !ok {
		return nil, &MalformedError{Where: h.Presentation(), Err: fmt.Errorf("handle's source is not an SMBSource")}
	}
	return &fileResource{
		handle:   &FileHandle{Base: NewBase(src, h.RelativePath())},
		fullPath: filepath.Join(src.mountPoint, filepath.FromSlash(h.RelativePath())),
	}, nil
}

func (h *SMBHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type         string          `json:"type"`
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"path"`
	}{Type: "smb", Source: srcJSON, RelativePath: h.RelativePath()})
}

func smbHandleFromJSON(data []byte) (Handle, error) {
	var v struct {
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"path"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := FromJSONObject(v.Source)
	if err != nil {
		return nil, err
	}
	return &SMBHandle{Base: NewBase(src, v.RelativePath)}, nil
}
