package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/filter"
)

// selectorFlags are the record selection flags shared by list and bulk.
type selectorFlags struct {
	tags        []string
	excludeTags []string
	name        string
}

func (s *selectorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.tags, "tag", nil, "Only records with this tag (key=value, repeatable)")
	cmd.Flags().StringSliceVar(&s.excludeTags, "exclude-tag", nil, "Skip records with this tag (key=value, repeatable)")
	cmd.Flags().StringVar(&s.name, "name", "", "Only records whose name matches this glob")
}

func (s *selectorFlags) filter() (*filter.Filter, error) {
	include, err := filter.ParseSelectors(s.tags)
	if err != nil {
		return nil, err
	}
	exclude, err := filter.ParseSelectors(s.excludeTags)
	if err != nil {
		return nil, err
	}
	return filter.New(include, exclude, s.name)
}
