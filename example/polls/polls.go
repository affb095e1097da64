// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package polls is an example API serving polls and their choices.
package polls

import (
	"errors"
	"fmt"
	"net/http"

	"go.aporeto.io/armet"
	"go.aporeto.io/armet/store"
	"go.aporeto.io/armet/store/sqlstore"
)

// PollAttributes returns the attributes of the polls resource.
func PollAttributes() []armet.Attribute {

	return []armet.Attribute{
		{Name: "id", Type: armet.TypeString, ReadOnly: true, Filterable: true},
		{Name: "question", Type: armet.TypeString, Required: true, Filterable: true},
		{Name: "published", Type: armet.TypeTime, Filterable: true},
	}
}

// ChoiceAttributes returns the attributes of the choices resource.
func ChoiceAttributes() []armet.Attribute {

	return []armet.Attribute{
		{Name: "id", Type: armet.TypeString, ReadOnly: true, Filterable: true},
		{Name: "poll", Path: "poll_id", Type: armet.TypeString, Relation: "polls", Filterable: true},
		{Name: "text", Type: armet.TypeString, Required: true, Filterable: true},
		{Name: "votes", Type: armet.TypeInteger, Filterable: true},
	}
}

// Tables returns the SQL tables storing polls and choices.
func Tables() []sqlstore.Table {

	return []sqlstore.Table{
		{
			Name:          "polls",
			Columns:       []string{"id", "question", "published"},
			SearchColumns: []string{"question"},
		},
		{
			Name:          "choices",
			Columns:       []string{"id", "poll_id", "text", "votes"},
			SearchColumns: []string{"text"},
		},
	}
}

// Register registers the polls, choices and stats resources on the api.
func Register(api *armet.API, s store.Store) error {

	if err := api.Register(armet.NewModelResource(s, "polls", PollAttributes()...), armet.OptPageSize(20)); err != nil {
		return fmt.Errorf("unable to register polls: %w", err)
	}

	if err := api.Register(armet.NewModelResource(s, "choices", ChoiceAttributes()...)); err != nil {
		return fmt.Errorf("unable to register choices: %w", err)
	}

	if err := api.Register(
		NewStatsResource(s),
		armet.OptSlug("poll"),
		armet.OptHTTPAllowedMethods(http.MethodGet, http.MethodHead, http.MethodOptions),
	); err != nil {
		return fmt.Errorf("unable to register stats: %w", err)
	}

	return nil
}

// PollStats holds the totals of a poll.
type PollStats struct {
	Poll     string `json:"poll" msgpack:"poll"`
	Question string `json:"question" msgpack:"question"`
	Choices  int    `json:"choices" msgpack:"choices"`
	Votes    int64  `json:"votes" msgpack:"votes"`
}

// A StatsResource is a read only resource computing the totals of the polls.
type StatsResource struct {
	store store.Store
}

// NewStatsResource returns a new *StatsResource.
func NewStatsResource(s store.Store) *StatsResource {
	return &StatsResource{store: s}
}

// ResourceName implements armet.Namer.
func (r *StatsResource) ResourceName() string {
	return "stats"
}

// Read implements armet.Reader.
func (r *StatsResource) Read(ctx armet.Context) (any, error) {

	if !ctx.IsList() {

		poll, err := r.store.Retrieve(ctx.Context(), "polls", ctx.Slug(), store.Query{})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("unable to retrieve poll: %w", err)
		}

		return r.stats(ctx, poll)
	}

	start, end := ctx.Page().IndexRange()

	polls, total, err := r.store.RetrieveMany(ctx.Context(), "polls", store.Query{
		Order:  []store.Order{{Field: "id"}},
		Limit:  end - start,
		Offset: start,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve polls: %w", err)
	}

	out := make([]*PollStats, 0, len(polls))
	for _, poll := range polls {

		s, err := r.stats(ctx, poll)
		if err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	ctx.SetCount(total)

	return out, nil
}

func (r *StatsResource) stats(ctx armet.Context, poll store.Record) (*PollStats, error) {

	id := fmt.Sprint(poll["id"])

	choices, _, err := r.store.RetrieveMany(ctx.Context(), "choices", store.Query{
		Filters: []store.Filter{{Field: "poll_id", Operator: store.OperatorExact, Value: id}},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve choices of poll '%s': %w", id, err)
	}

	s := &PollStats{
		Poll:     id,
		Question: fmt.Sprint(poll["question"]),
		Choices:  len(choices),
	}

	for _, c := range choices {
		s.Votes += toInt64(c["votes"])
	}

	return s, nil
}

func toInt64(v any) int64 {

	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}

	return 0
}
