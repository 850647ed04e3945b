package main

import (
	"fmt"
	"io"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/store"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage standing deal requests",
}

// -- request create --

var requestCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a deal request",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		title, _ := flags.GetString("title")
		category, _ := flags.GetString("category")
		req := model.NewDealRequest(strings.TrimSpace(title), cfg.ResolveCategory(category), time.Now().UTC(), requestTTL())
		req.Description, _ = flags.GetString("description")
		req.Requirements, _ = flags.GetString("requirements")
		req.StructuredPrompt, _ = flags.GetString("prompt")
		req.SearchKeyword, _ = flags.GetString("keyword")
		req.Approved, _ = flags.GetBool("approve")
		if flags.Changed("max-budget") {
			budget, _ := flags.GetInt("max-budget")
			req.MaxBudget = &budget
		}
		subscribers, _ := flags.GetStringSlice("subscribe")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		created := importedRequest{DealRequest: req, Subscribers: subscribers}
		if err := createRequest(cmd, st, &created); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created request %d (%s)\n", created.ID, created.Status)
		return nil
	},
}

// -- request approve --

var requestApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending request so it takes part in matching",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseRequestID(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ApproveRequest(ctx, id); err != nil {
			return eris.Wrap(err, "request approve")
		}
		zap.L().Info("request approved", zap.Int64("request_id", id))
		return nil
	},
}

// -- request subscribe --

var requestSubscribeCmd = &cobra.Command{
	Use:   "subscribe <id> <email>...",
	Short: "Subscribe email addresses to a request",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseRequestID(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req, err := st.GetRequest(ctx, id)
		if err != nil {
			return eris.Wrap(err, "request subscribe")
		}
		if req == nil {
			return eris.Errorf("request %d not found", id)
		}
		return subscribeAll(cmd, st, id, args[1:])
	},
}

// -- request list --

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deal requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		active, _ := flags.GetBool("active")
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		asJSON, _ := flags.GetBool("json")

		var filter store.RequestFilter
		if status != "" {
			s, err := model.ParseRequestStatus(status)
			if err != nil {
				return err
			}
			filter.Status = s
		}
		filter.Limit = limit

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var reqs []model.ActiveRequest
		if active {
			reqs, err = st.ListActiveRequests(ctx, time.Now().UTC())
		} else {
			var plain []model.DealRequest
			plain, err = st.ListRequests(ctx, filter)
			for _, r := range plain {
				reqs = append(reqs, model.ActiveRequest{DealRequest: r})
			}
		}
		if err != nil {
			return eris.Wrap(err, "request list")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), reqs)
		}
		if len(reqs) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}
		formatRequests(cmd.OutOrStdout(), reqs, active)
		return nil
	},
}

// -- request import --

var requestImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create deal requests and subscriptions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		reqs, err := parseRequestFile(f, time.Now().UTC())
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for i := range reqs {
			if err := createRequest(cmd, st, &reqs[i]); err != nil {
				return err
			}
		}
		zap.L().Info("requests imported", zap.Int("count", len(reqs)), zap.String("file", args[0]))
		return nil
	},
}

// importedRequest is one entry of a request import file.
type importedRequest struct {
	model.DealRequest `yaml:",inline"`
	Subscribers       []string `yaml:"subscribers"`
	TTLHours          int      `yaml:"ttl_hours"`
}

type requestFile struct {
	Requests []importedRequest `yaml:"requests"`
}

// parseRequestFile decodes and validates a request import file. Category
// names are resolved to ids and expiry is set from ttl_hours or the
// configured request TTL.
func parseRequestFile(r io.Reader, now time.Time) ([]importedRequest, error) {
	var file requestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, eris.Wrap(err, "request import: decode yaml")
	}
	if len(file.Requests) == 0 {
		return nil, eris.New("request import: no requests in file")
	}

	out := make([]importedRequest, 0, len(file.Requests))
	for i, r := range file.Requests {
		r.Title = strings.TrimSpace(r.Title)
		if r.Title == "" {
			return nil, eris.Errorf("request import: entry %d: title is required", i+1)
		}
		if strings.TrimSpace(r.Category) == "" {
			return nil, eris.Errorf("request import: entry %d (%s): category is required", i+1, r.Title)
		}
		if r.MaxBudget != nil && *r.MaxBudget < 0 {
			return nil, eris.Errorf("request import: entry %d (%s): max_budget must be >= 0", i+1, r.Title)
		}
		for _, email := range r.Subscribers {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, eris.Wrapf(err, "request import: entry %d (%s): subscriber %q", i+1, r.Title, email)
			}
		}

		ttl := requestTTL()
		if r.TTLHours > 0 {
			ttl = time.Duration(r.TTLHours) * time.Hour
		}
		base := model.NewDealRequest(r.Title, cfg.ResolveCategory(r.Category), now, ttl)
		base.Description = r.Description
		base.MaxBudget = r.MaxBudget
		base.Requirements = r.Requirements
		base.StructuredPrompt = r.StructuredPrompt
		base.SearchKeyword = r.SearchKeyword
		base.Approved = r.Approved
		r.DealRequest = base
		out = append(out, r)
	}
	return out, nil
}

func createRequest(cmd *cobra.Command, st store.Store, r *importedRequest) error {
	ctx := cmd.Context()
	if r.Title == "" || r.Category == "" {
		return eris.New("request: title and category are required")
	}
	if err := st.CreateRequest(ctx, &r.DealRequest); err != nil {
		return eris.Wrapf(err, "request: create %q", r.Title)
	}
	zap.L().Info("request created",
		zap.Int64("request_id", r.ID),
		zap.String("title", r.Title),
		zap.String("status", string(r.Status)),
	)
	return subscribeAll(cmd, st, r.ID, r.Subscribers)
}

func subscribeAll(cmd *cobra.Command, st store.Store, id int64, emails []string) error {
	for _, email := range emails {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return eris.Wrapf(err, "request: invalid email %q", email)
		}
		added, err := st.Subscribe(cmd.Context(), id, addr.Address)
		if err != nil {
			return eris.Wrap(err, "request: subscribe")
		}
		zap.L().Info("subscription",
			zap.Int64("request_id", id),
			zap.String("email", addr.Address),
			zap.Bool("added", added),
		)
	}
	return nil
}

func requestTTL() time.Duration {
	return time.Duration(cfg.Matching.RequestTTLHours) * time.Hour
}

func parseRequestID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid request id %q", s)
	}
	return id, nil
}

func init() {
	f := requestCreateCmd.Flags()
	f.String("title", "", "what is being looked for (required)")
	f.String("category", "", "category id or name (required)")
	f.String("description", "", "longer description")
	f.Int("max-budget", 0, "maximum price in kr (inclusive)")
	f.String("requirements", "", "free-text requirements passed to the scorer")
	f.String("prompt", "", "structured prompt replacing the generic rubric")
	f.String("keyword", "", "search keyword passed to the scorer")
	f.Bool("approve", false, "approve immediately")
	f.StringSlice("subscribe", nil, "email addresses to subscribe")
	_ = requestCreateCmd.MarkFlagRequired("title")
	_ = requestCreateCmd.MarkFlagRequired("category")

	requestListCmd.Flags().Bool("active", false, "only approved, active, unexpired requests with counts")
	requestListCmd.Flags().String("status", "", "filter by status (pending, active, fulfilled, expired)")
	requestListCmd.Flags().Int("limit", 50, "max requests to list")
	requestListCmd.Flags().Bool("json", false, "print JSON instead of a table")

	requestCmd.AddCommand(requestCreateCmd, requestApproveCmd, requestSubscribeCmd, requestListCmd, requestImportCmd)
	rootCmd.AddCommand(requestCmd)
}
