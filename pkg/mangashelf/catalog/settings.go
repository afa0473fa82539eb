package catalog

import (
	"context"
	"errors"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// GetSettings returns the site settings, empty when never set
func (c *Catalog) GetSettings(ctx context.Context) (*mangashelf.Settings, error) {
	s, err := c.Settings.Find(ctx, mangashelf.SettingsID)
	if errors.Is(err, mangashelf.ErrNotFound) {
		return &mangashelf.Settings{Base: mangashelf.Base{ID: mangashelf.SettingsID}}, nil
	}
	return s, err
}

// UpdateSettings replaces the site settings
func (c *Catalog) UpdateSettings(ctx context.Context, caller mangashelf.Caller, in mangashelf.Settings) (*mangashelf.Settings, error) {
	if err := caller.Check(mangashelf.ActionEdit, &in); err != nil {
		return nil, err
	}
	current, err := c.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	current.Title1 = in.Title1
	current.Title2 = in.Title2
	current.About = in.About
	if current.Version == 0 {
		err = c.Settings.Save(ctx, current)
	} else {
		err = c.Settings.Update(ctx, current)
	}
	if err != nil {
		return nil, err
	}
	return current, nil
}
