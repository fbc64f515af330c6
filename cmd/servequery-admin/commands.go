// ABOUTME: Subcommands of servequery-admin operating on the permission store
// ABOUTME: Each command parses its flags, calls the store and prints a table or a summary

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/servequery/servequery-agent/internal/store"
)

// cli carries what every subcommand needs.
type cli struct {
	store store.Store
	out   io.Writer
}

type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"roles":       cmdRoles,
	"users":       cmdUsers,
	"permissions": cmdPermissions,
	"scopes":      cmdScopes,
	"audit":       cmdAudit,
}

// flags holds parsed "--name value" options. Boolean flags map to "true";
// repeated flags keep every value.
type flags map[string][]string

func (f flags) get(name string) string {
	if v := f[name]; len(v) > 0 {
		return v[len(v)-1]
	}
	return ""
}

func (f flags) has(name string) bool {
	_, ok := f[name]
	return ok
}

// parseFlags parses "--name value", "--name=value" and the boolean flags
// listed in bools. Positional arguments are returned in order.
func parseFlags(args []string, bools ...string) (flags, []string, error) {
	isBool := make(map[string]bool, len(bools))
	for _, b := range bools {
		isBool[b] = true
	}

	f := flags{}
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(name, "="); ok {
			f[k] = append(f[k], v)
			continue
		}
		if isBool[name] {
			f[name] = append(f[name], "true")
			continue
		}
		if i+1 >= len(args) {
			return nil, nil, fmt.Errorf("--%s requires a value", name)
		}
		f[name] = append(f[name], args[i+1])
		i++
	}
	return f, positional, nil
}

// subcommand splits args into the subcommand (default "list") and the rest.
func subcommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "--") {
		return "list", args
	}
	return args[0], args[1:]
}

func parseCondition(raw string) (store.Condition, error) {
	if raw == "" {
		return nil, nil
	}
	var cond store.Condition
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		return nil, fmt.Errorf("invalid condition JSON: %w", err)
	}
	return cond, nil
}

func formatCondition(cond store.Condition) string {
	if cond == nil {
		return "-"
	}
	data, err := json.Marshal(cond)
	if err != nil {
		return "?"
	}
	return string(data)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (c *cli) role(ctx context.Context, name string) (*store.Role, error) {
	if name == "" {
		return nil, errors.New("--role is required")
	}
	role, err := c.store.GetRoleByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("role %q: %w", name, err)
	}
	return role, nil
}

func (c *cli) success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(c.out, "✓ "+format+"\n", args...)
}

func (c *cli) heading(title string) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(c.out)
	cyan.Fprintln(c.out, "  "+title)
	cyan.Fprintln(c.out, "  "+strings.Repeat("-", len(title)))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func cmdRoles(ctx context.Context, c *cli, args []string) error {
	sub, rest := subcommand(args)
	f, positional, err := parseFlags(rest)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		roles, err := c.store.ListRoles(ctx)
		if err != nil {
			return fmt.Errorf("listing roles: %w", err)
		}
		c.heading("Roles")
		if len(roles) == 0 {
			fmt.Fprintln(c.out, "  (no roles)")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tNAME\tCREATED")
		for _, r := range roles {
			fmt.Fprintf(w, "  %d\t%s\t%s\n", r.ID, r.Name, r.CreatedAt.Format("Jan 02 15:04"))
		}
		return w.Flush()

	case "create":
		name := f.get("name")
		if name == "" {
			return errors.New("usage: roles create --name <name>")
		}
		role := &store.Role{Name: name}
		if err := c.store.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("creating role: %w", err)
		}
		c.success("Created role %s (id %d)", role.Name, role.ID)
		return nil

	case "delete":
		if len(positional) != 1 {
			return errors.New("usage: roles delete <id>")
		}
		id, err := parseID(positional[0])
		if err != nil {
			return err
		}
		if err := c.store.DeleteRole(ctx, id); err != nil {
			return fmt.Errorf("deleting role: %w", err)
		}
		c.success("Deleted role %d", id)
		return nil

	default:
		return fmt.Errorf("unknown roles subcommand: %s (use list, create, delete)", sub)
	}
}

func cmdUsers(ctx context.Context, c *cli, args []string) error {
	sub, rest := subcommand(args)
	f, positional, err := parseFlags(rest)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		users, err := c.store.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		roles, err := c.store.ListRoles(ctx)
		if err != nil {
			return fmt.Errorf("listing roles: %w", err)
		}
		roleNames := make(map[int]string, len(roles))
		for _, r := range roles {
			roleNames[r.ID] = r.Name
		}

		c.heading("Users")
		if len(users) == 0 {
			fmt.Fprintln(c.out, "  (no users)")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tEMAIL\tNAME\tTEAM\tROLE")
		for _, u := range users {
			name := strings.TrimSpace(u.FirstName + " " + u.LastName)
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\n", u.ID, u.Email, name, u.Team, roleNames[u.RoleID])
		}
		return w.Flush()

	case "create":
		email := f.get("email")
		if email == "" || f.get("role") == "" {
			return errors.New("usage: users create --email <email> --role <name>")
		}
		role, err := c.role(ctx, f.get("role"))
		if err != nil {
			return err
		}

		var tags map[string]string
		for _, tag := range f["tag"] {
			k, v, ok := strings.Cut(tag, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid tag %q (use key=value)", tag)
			}
			if tags == nil {
				tags = map[string]string{}
			}
			tags[k] = v
		}

		user := &store.User{
			Email:     email,
			FirstName: f.get("first-name"),
			LastName:  f.get("last-name"),
			Team:      f.get("team"),
			RoleID:    role.ID,
			Tags:      tags,
		}
		if err := c.store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		c.success("Created user %s (id %d, role %s)", user.Email, user.ID, role.Name)
		return nil

	case "delete":
		if len(positional) != 1 {
			return errors.New("usage: users delete <id>")
		}
		id, err := parseID(positional[0])
		if err != nil {
			return err
		}
		if err := c.store.DeleteUser(ctx, id); err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		c.success("Deleted user %d", id)
		return nil

	default:
		return fmt.Errorf("unknown users subcommand: %s (use list, create, delete)", sub)
	}
}

func cmdPermissions(ctx context.Context, c *cli, args []string) error {
	sub, rest := subcommand(args)
	f, _, err := parseFlags(rest, "trigger", "approval-required", "approve", "self-approve")
	if err != nil {
		return err
	}

	collection, action := f.get("collection"), f.get("action")
	if collection == "" || action == "" {
		return fmt.Errorf("usage: permissions %s --collection <c> --action <a>", sub)
	}

	switch sub {
	case "list":
		perms, err := c.store.ListActionPermissions(ctx, collection, action)
		if err != nil {
			return fmt.Errorf("listing permissions: %w", err)
		}
		c.heading("Permissions on " + collection + "/" + action)
		if len(perms) == 0 {
			fmt.Fprintln(c.out, "  (no permissions)")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ROLE\tTRIGGER\tTRIGGER IF\tNEEDS APPROVAL\tAPPROVAL IF\tAPPROVE\tAPPROVE IF\tSELF")
		for _, p := range perms {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.RoleID,
				yesNo(p.TriggerEnabled), formatCondition(p.TriggerCondition),
				yesNo(p.ApprovalRequired), formatCondition(p.ApprovalRequiredCondition),
				yesNo(p.UserApprovalEnabled), formatCondition(p.UserApprovalCondition),
				yesNo(p.SelfApprovalEnabled),
			)
		}
		return w.Flush()

	case "set":
		role, err := c.role(ctx, f.get("role"))
		if err != nil {
			return err
		}
		p := &store.ActionPermission{
			RoleID:              role.ID,
			Collection:          collection,
			Action:              action,
			TriggerEnabled:      f.has("trigger"),
			ApprovalRequired:    f.has("approval-required"),
			UserApprovalEnabled: f.has("approve"),
			SelfApprovalEnabled: f.has("self-approve"),
		}
		if p.TriggerCondition, err = parseCondition(f.get("trigger-condition")); err != nil {
			return err
		}
		if p.ApprovalRequiredCondition, err = parseCondition(f.get("approval-required-condition")); err != nil {
			return err
		}
		if p.UserApprovalCondition, err = parseCondition(f.get("approve-condition")); err != nil {
			return err
		}
		if err := c.store.SetActionPermission(ctx, p); err != nil {
			return fmt.Errorf("setting permission: %w", err)
		}
		c.success("Set permission of %s on %s/%s", role.Name, collection, action)
		return nil

	case "delete":
		role, err := c.role(ctx, f.get("role"))
		if err != nil {
			return err
		}
		if err := c.store.DeleteActionPermission(ctx, role.ID, collection, action); err != nil {
			return fmt.Errorf("deleting permission: %w", err)
		}
		c.success("Deleted permission of %s on %s/%s", role.Name, collection, action)
		return nil

	default:
		return fmt.Errorf("unknown permissions subcommand: %s (use list, set, delete)", sub)
	}
}

func cmdScopes(ctx context.Context, c *cli, args []string) error {
	sub, rest := subcommand(args)
	f, _, err := parseFlags(rest)
	if err != nil {
		return err
	}

	role, err := c.role(ctx, f.get("role"))
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		scopes, err := c.store.ListScopes(ctx, role.ID)
		if err != nil {
			return fmt.Errorf("listing scopes: %w", err)
		}
		c.heading("Scopes of " + role.Name)
		if len(scopes) == 0 {
			fmt.Fprintln(c.out, "  (no scopes)")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  COLLECTION\tCONDITION")
		for _, s := range scopes {
			fmt.Fprintf(w, "  %s\t%s\n", s.Collection, formatCondition(s.Condition))
		}
		return w.Flush()

	case "set":
		collection := f.get("collection")
		cond, err := parseCondition(f.get("condition"))
		if err != nil {
			return err
		}
		if collection == "" || cond == nil {
			return errors.New("usage: scopes set --role <name> --collection <c> --condition <json>")
		}
		if err := c.store.SetScope(ctx, &store.Scope{RoleID: role.ID, Collection: collection, Condition: cond}); err != nil {
			return fmt.Errorf("setting scope: %w", err)
		}
		c.success("Set scope of %s on %s", role.Name, collection)
		return nil

	case "delete":
		collection := f.get("collection")
		if collection == "" {
			return errors.New("usage: scopes delete --role <name> --collection <c>")
		}
		if err := c.store.DeleteScope(ctx, role.ID, collection); err != nil {
			return fmt.Errorf("deleting scope: %w", err)
		}
		c.success("Deleted scope of %s on %s", role.Name, collection)
		return nil

	default:
		return fmt.Errorf("unknown scopes subcommand: %s (use list, set, delete)", sub)
	}
}

func cmdAudit(ctx context.Context, c *cli, args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}

	var filter store.AuditFilter
	if raw := f.get("user"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return err
		}
		filter.ActorUserID = &id
	}
	if raw := f.get("outcome"); raw != "" {
		outcome := store.AuditOutcome(raw)
		filter.Outcome = &outcome
	}
	if raw := f.get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}

	entries, err := c.store.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	c.heading("Audit Log")
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "  (no entries)")
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tUSER\tKIND\tACTION\tOUTCOME")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s/%s\t%s\n",
			e.Timestamp.Format("Jan 02 15:04:05"), e.ActorUserID, e.Action, e.Collection, e.CustomAction, e.Outcome)
	}
	return w.Flush()
}
