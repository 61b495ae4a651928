package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hubsync/internal/app"
	"hubsync/internal/hub"
	"hubsync/internal/model"
	"hubsync/internal/sheet"
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// section command
var sectionCmd = &cobra.Command{
	Use:   "section",
	Short: "Manage sections",
}

var sectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ListSections", args, func(ctx context.Context, a *app.HubApp) error {
			sections, err := a.Service().GetAllSections(ctx)
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tNAME\tTABS\tUPDATED")
			for _, s := range sections {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, strings.Join(s.Config.Tabs, ","), s.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var sectionGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "GetSection", args, func(ctx context.Context, a *app.HubApp) error {
			s, err := a.Service().GetSection(ctx, args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("section %s: %w", args[0], hub.ErrNotFound)
			}
			return printJSON(s)
		})
	},
}

var sectionSaveCmd = &cobra.Command{
	Use:   "save <id>",
	Short: "Create or update a section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "SaveSection", args, func(ctx context.Context, a *app.HubApp) error {
			f := cmd.Flags()
			name, _ := f.GetString("name")
			icon, _ := f.GetString("icon")
			color, _ := f.GetString("color")
			if existing, err := a.Service().GetSection(ctx, args[0]); err != nil {
				return err
			} else if existing != nil {
				if name == "" {
					name = existing.Name
				}
				if !f.Changed("icon") {
					icon = existing.Icon
				}
				if !f.Changed("color") {
					color = existing.Color
				}
			}
			if err :=a.Service().SaveSection(ctx, &model.Section{ID: args[0], Name: name, Icon: icon, Color: color}); err != nil {
				return err
			}

			var partial model.SectionConfig
			if f.Changed("intro") {
				v, _ := f.GetString("intro")
				partial.Intro = &v
			}
			if f.Changed("visible") {
				v, _ := f.GetBool("visible")
				partial.Visible = &v
			}
			if f.Changed("order") {
				v, _ := f.GetInt("order")
				partial.Order = &v
			}
			if !hub.IsEmptyConfig(partial) {
				if _, err := a.Service().SaveSectionConfig(ctx, args[0], partial); err != nil {
					return err
				}
			}
			fmt.Printf("Saved section %s\n", args[0])
			return nil
		})
	},
}

var sectionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a section and its resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "DeleteSection", args, func(ctx context.Context, a *app.HubApp) error {
			if err := a.Service().DeleteSection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted section %s\n", args[0])
			return nil
		})
	},
}

// tabs command
var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "Manage section tabs",
}

var tabsSetCmd = &cobra.Command{
	Use:   "set <section> <id=name[:icon]>...",
	Short: "Replace a section's tabs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "SetTabs", args, func(ctx context.Context, a *app.HubApp) error {
			changed, err := a.SetTabs(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("Tabs unchanged")
				return nil
			}
			fmt.Printf("Set %d tabs on %s\n", len(args)-1, args[0])
			return nil
		})
	},
}

// resource command
var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage resources",
}

var resourceListCmd = &cobra.Command{
	Use:   "list <section>",
	Short: "List a section's resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ListResources", args, func(ctx context.Context, a *app.HubApp) error {
			typeID, _ := cmd.Flags().GetString("type")
			var (
				resources []*model.Resource
				err       error
			)
			if typeID != "" {
				resources, err = a.Service().GetResourcesByType(ctx, args[0], typeID)
			} else {
				resources, err = a.Service().GetResourcesBySection(ctx, args[0])
			}
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tTYPE\tTITLE\tURL")
			for _, r := range resources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Title, r.URL)
			}
			return w.Flush()
		})
	},
}

var resourceSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Create or update a resource",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "SaveResource", args, func(ctx context.Context, a *app.HubApp) error {
			f := cmd.Flags()
			str := func(name string) string { v, _ := f.GetString(name); return v }
			r := &model.Resource{
				ID:          str("id"),
				SectionID:   str("section"),
				Type:        str("type"),
				Title:       str("title"),
				Description: str("description"),
				URL:         str("url"),
				Category:    str("category"),
				Tags:        hub.SplitTags(str("tags")),
			}
			if err := a.Service().SaveResource(ctx, r); err != nil {
				return err
			}
			fmt.Printf("Saved resource %s\n", r.ID)
			return nil
		})
	},
}

var resourceDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "DeleteResource", args, func(ctx context.Context, a *app.HubApp) error {
			if err := a.Service().DeleteResource(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted resource %s\n", args[0])
			return nil
		})
	},
}

// activity command
var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Inspect the activity log",
}

var activityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent activity, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ListActivities", args, func(ctx context.Context, a *app.HubApp) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			activities, err := a.Service().GetActivities(ctx, limit, offset)
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "TIME\tUSER\tACTION\tSECTION\tRESOURCE")
			for _, act := range activities {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					act.Timestamp.Format(time.RFC3339), act.Username, act.Action, act.SectionID, act.ResourceID)
			}
			return w.Flush()
		})
	},
}

// setting command
var settingCmd = &cobra.Command{
	Use:   "setting",
	Short: "Manage site settings",
}

var settingGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a site setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "GetSetting", args, func(ctx context.Context, a *app.HubApp) error {
			s, err := a.Service().GetSiteSetting(ctx, args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("setting %s: %w", args[0], hub.ErrNotFound)
			}
			return printJSON(s)
		})
	},
}

var settingSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a site setting; JSON values are stored as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "SetSetting", args[:1], func(ctx context.Context, a *app.HubApp) error {
			return a.SetSetting(ctx, args[0], args[1])
		})
	},
}

// migration commands
var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the whole hub as a JSON snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Export", args, func(ctx context.Context, a *app.HubApp) error {
			out := os.Stdout
			if len(args) == 1 {
				f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
				if err != nil {
					return fmt.Errorf("creating %s: %w", args[0], err)
				}
				defer f.Close()
				out = f
			}
			snap, err := a.Export(ctx, out)
			if err != nil {
				return err
			}
			if out != os.Stdout {
				fmt.Fprintf(os.Stderr, "Exported %v to %s\n", snap.Counts(), args[0])
			}
			return nil
		})
	},
}

func printProgress(ev hub.ProgressEvent) {
	switch {
	case ev.Error != "":
		fmt.Fprintf(os.Stderr, "%-12s %-24s %s: %s\n", ev.Step, ev.ID+ev.Key, ev.Status, ev.Error)
	case ev.Counts != nil:
		fmt.Fprintf(os.Stderr, "%-12s %v\n", ev.Step, ev.Counts)
	default:
		fmt.Fprintf(os.Stderr, "%-12s %-24s %s\n", ev.Step, ev.ID+ev.Key, ev.Status)
	}
}

func printImportSummary(s *hub.ImportSummary) error {
	if err := printJSON(s); err != nil {
		return err
	}
	if n := s.Failed(); n > 0 {
		return fmt.Errorf("%d rows failed to import", n)
	}
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Import", args, func(ctx context.Context, a *app.HubApp) error {
			summary, err := a.ImportFile(ctx, args[0], printProgress)
			if err != nil {
				return err
			}
			return printImportSummary(summary)
		})
	},
}

var importSheetCmd = &cobra.Command{
	Use:   "import-sheet <xlsx|csvdir>",
	Short: "Import sections, tabs and resources from a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ImportSheet", args, func(ctx context.Context, a *app.HubApp) error {
			summary, err := a.ImportSheet(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(summary)
		})
	},
}

var sheetTemplateCmd = &cobra.Command{
	Use:   "sheet-template <file>",
	Short: "Write an example import workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sheet.WriteTemplate(args[0]); err != nil {
			return err
		}
		fmt.Printf("Template written to %s\n", args[0])
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Store and restore snapshots in the vault",
}

var backupPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Store a snapshot of the hub in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "BackupPush", args, func(ctx context.Context, a *app.HubApp) error {
			version, err := a.BackupPush(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Stored snapshot version %d\n", version)
			return nil
		})
	},
}

var backupPullCmd = &cobra.Command{
	Use:   "pull [version]",
	Short: "Restore a snapshot from the vault (default: latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var version int64
		if len(args) == 1 {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			version = v
		}
		return run(cmd, "BackupPull", args, func(ctx context.Context, a *app.HubApp) error {
			var pass string
			if a.NeedsPassphrase() {
				var err error
				if pass, err = readPassphrase("Snapshot passphrase: ", false); err != nil {
					return err
				}
			}
			summary, err := a.BackupPull(ctx, version, pass, printProgress)
			if err != nil {
				return err
			}
			return printImportSummary(summary)
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "BackupList", args, func(ctx context.Context, a *app.HubApp) error {
			infos, err := a.BackupList()
			if err != nil {
				return err
			}
			w := newTable()
			fmt.Fprintln(w, "NAME\tVERSION\tTAKEN\tSIZE")
			for _, info := range infos {
				taken := time.Unix(0, info.Version).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", info.Name, info.Version, taken, info.Size)
			}
			return w.Flush()
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <section>",
	Short: "Keep a section fresh and print its resource count on every refresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Watch", args, func(ctx context.Context, a *app.HubApp) error {
			return a.Watch(ctx, args[0], func(n int) {
				fmt.Printf("%s\t%s\t%d resources\n", time.Now().Format(time.TimeOnly), args[0], n)
			})
		})
	},
}

func addHubCommands(root *cobra.Command) {
	sectionCmd.AddCommand(sectionListCmd, sectionGetCmd, sectionSaveCmd, sectionDeleteCmd)
	sf := sectionSaveCmd.Flags()
	sf.String("name", "", "Display name")
	sf.String("icon", "", "Icon class")
	sf.String("color", "", "Accent color")
	sf.String("intro", "", "Intro text")
	sf.Bool("visible", true, "Show the section")
	sf.Int("order", 0, "Sort order")

	tabsCmd.AddCommand(tabsSetCmd)

	resourceCmd.AddCommand(resourceListCmd, resourceSaveCmd, resourceDeleteCmd)
	resourceListCmd.Flags().String("type", "", "Only list this tab/type")
	rf := resourceSaveCmd.Flags()
	rf.String("id", "", "Resource id (default: new)")
	rf.String("section", "", "Section id")
	rf.String("type", "", "Tab/type id")
	rf.String("title", "", "Title")
	rf.String("description", "", "Description")
	rf.String("url", "", "Link")
	rf.String("category", "", "Category")
	rf.String("tags", "", "Comma-separated tags")

	activityCmd.AddCommand(activityListCmd)
	activityListCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	activityListCmd.Flags().Int("offset", 0, "Entries to skip")

	settingCmd.AddCommand(settingGetCmd, settingSetCmd)

	backupCmd.AddCommand(backupPushCmd, backupPullCmd, backupListCmd)

	root.AddCommand(sectionCmd, tabsCmd, resourceCmd, activityCmd, settingCmd,
		exportCmd, importCmd, importSheetCmd, sheetTemplateCmd, backupCmd, watchCmd)
}
