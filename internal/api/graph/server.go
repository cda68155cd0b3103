package graph

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
)

// Querier is the read side the resolvers are backed by.
type Querier interface {
	Tally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, error)
	UserVotes(ctx context.Context, evermarkID string, cycle uint64) ([]*model.UserVoteRecord, error)
	Cycle(ctx context.Context, cycle uint64) (*model.VotingCycle, error)
	Stats(ctx context.Context) *model.CacheStats
}

// Cycle numbers and block numbers exceed Int's 32 bits, so they travel as
// decimal strings, like vote amounts.
const schemaString = `
type Tally {
  evermarkId: String!
  cycle: String!
  totalVotes: String!
  voterCount: Int!
  lastUpdated: String!
}

type UserVote {
  userAddress: String!
  evermarkId: String!
  cycle: String!
  voteAmount: String!
  transactionHash: String
  blockNumber: String
  updatedAt: String!
}

type VotingCycle {
  cycleNumber: String!
  startTime: String!
  endTime: String!
  totalVotes: String!
  totalVoters: Int!
  activeEvermarksCount: Int!
  isActive: Boolean!
  finalized: Boolean!
  updatedAt: String!
}

type CacheStats {
  totalCachedEntries: Int!
  lastSyncTime: String
  activeCycles: Int!
  cacheHealth: String!
}

type Query {
  tally(evermarkId: String!, cycle: String!): Tally
  userVotes(evermarkId: String!, cycle: String!): [UserVote!]!
  cycle(number: String!): VotingCycle
  stats: CacheStats!
}

schema {
  query: Query
}
`

// GraphQLServer serves the read-only query API over the cache.
type GraphQLServer struct {
	schema  *graphql.Schema
	handler *relay.Handler
	path    string
}

func NewGraphQLServer(q Querier, path string) *GraphQLServer {
	schema := graphql.MustParseSchema(schemaString, &Resolver{q: q})
	return &GraphQLServer{
		schema:  schema,
		handler: &relay.Handler{Schema: schema},
		path:    path,
	}
}

// Handler returns the GraphQL endpoint.
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// Playground returns a page that points the GraphQL playground at the endpoint.
func (s *GraphQLServer) Playground() http.Handler {
	page := []byte(playgroundHTML(s.path))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(page)
	})
}

// Exec runs a query directly. Used by tests and tooling.
func (s *GraphQLServer) Exec(ctx context.Context, query string, variables map[string]interface{}) *graphql.Response {
	return s.schema.Exec(ctx, query, "", variables)
}

type Resolver struct {
	q Querier
}

type tallyArgs struct {
	EvermarkID string
	Cycle      string
}

func (r *Resolver) Tally(ctx context.Context, args tallyArgs) (*TallyResolver, error) {
	cycle, err := parseCycle(args.Cycle)
	if err != nil {
		return nil, err
	}
	t, err := r.q.Tally(ctx, args.EvermarkID, cycle)
	if err != nil || t == nil {
		return nil, err
	}
	return &TallyResolver{t: t}, nil
}

func (r *Resolver) UserVotes(ctx context.Context, args tallyArgs) ([]*UserVoteResolver, error) {
	cycle, err := parseCycle(args.Cycle)
	if err != nil {
		return nil, err
	}
	votes, err := r.q.UserVotes(ctx, args.EvermarkID, cycle)
	if err != nil {
		return nil, err
	}
	out := make([]*UserVoteResolver, len(votes))
	for i, v := range votes {
		out[i] = &UserVoteResolver{v: v}
	}
	return out, nil
}

func (r *Resolver) Cycle(ctx context.Context, args struct{ Number string }) (*CycleResolver, error) {
	n, err := parseCycle(args.Number)
	if err != nil {
		return nil, err
	}
	c, err := r.q.Cycle(ctx, n)
	if err != nil || c == nil {
		return nil, err
	}
	return &CycleResolver{c: c}, nil
}

func (r *Resolver) Stats(ctx context.Context) *StatsResolver {
	return &StatsResolver{s: r.q.Stats(ctx)}
}

type TallyResolver struct {
	t *model.EvermarkCycleTally
}

func (r *TallyResolver) EvermarkID() string  { return r.t.EvermarkID }
func (r *TallyResolver) Cycle() string       { return strconv.FormatUint(r.t.CycleNumber, 10) }
func (r *TallyResolver) TotalVotes() string  { return r.t.TotalVotes }
func (r *TallyResolver) VoterCount() int32   { return clampInt32(r.t.VoterCount) }
func (r *TallyResolver) LastUpdated() string { return formatTime(r.t.LastUpdated) }

type UserVoteResolver struct {
	v *model.UserVoteRecord
}

func (r *UserVoteResolver) UserAddress() string      { return r.v.UserAddress }
func (r *UserVoteResolver) EvermarkID() string       { return r.v.EvermarkID }
func (r *UserVoteResolver) Cycle() string            { return strconv.FormatUint(r.v.CycleNumber, 10) }
func (r *UserVoteResolver) VoteAmount() string       { return r.v.VoteAmount }
func (r *UserVoteResolver) TransactionHash() *string { return r.v.TransactionHash }
func (r *UserVoteResolver) UpdatedAt() string        { return formatTime(r.v.UpdatedAt) }

func (r *UserVoteResolver) BlockNumber() *string {
	if r.v.BlockNumber == nil {
		return nil
	}
	s := strconv.FormatUint(*r.v.BlockNumber, 10)
	return &s
}

type CycleResolver struct {
	c *model.VotingCycle
}

func (r *CycleResolver) CycleNumber() string         { return strconv.FormatUint(r.c.CycleNumber, 10) }
func (r *CycleResolver) StartTime() string           { return formatTime(r.c.StartTime) }
func (r *CycleResolver) EndTime() string             { return formatTime(r.c.EndTime) }
func (r *CycleResolver) TotalVotes() string          { return r.c.TotalVotes }
func (r *CycleResolver) TotalVoters() int32          { return clampInt32(r.c.TotalVoters) }
func (r *CycleResolver) ActiveEvermarksCount() int32 { return clampInt32(r.c.ActiveEvermarksCount) }
func (r *CycleResolver) IsActive() bool              { return r.c.IsActive }
func (r *CycleResolver) Finalized() bool             { return r.c.Finalized }
func (r *CycleResolver) UpdatedAt() string           { return formatTime(r.c.UpdatedAt) }

type StatsResolver struct {
	s *model.CacheStats
}

func (r *StatsResolver) TotalCachedEntries() int32 { return clampInt32(r.s.TotalCachedEntries) }
func (r *StatsResolver) ActiveCycles() int32       { return clampInt32(r.s.ActiveCycles) }
func (r *StatsResolver) CacheHealth() string       { return r.s.CacheHealth }

func (r *StatsResolver) LastSyncTime() *string {
	if r.s.LastSyncTime == nil {
		return nil
	}
	s := formatTime(*r.s.LastSyncTime)
	return &s
}

func parseCycle(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &invalidArgError{arg: "cycle", value: s}
	}
	return n, nil
}

type invalidArgError struct {
	arg, value string
}

func (e *invalidArgError) Error() string {
	return "invalid " + e.arg + " " + strconv.Quote(e.value) + ": must be a non-negative integer"
}

// clampInt32 saturates counts at the bounds of GraphQL Int.
func clampInt32(n int64) int32 {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	}
	return int32(n)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func playgroundHTML(endpoint string) string {
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Evermark Voting Cache</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function () {
      GraphQLPlayground.init(document.getElementById('root'), { endpoint: '` + endpoint + `' })
    })</script>
</body>
</html>
`
}
