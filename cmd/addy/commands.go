package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/hnrobert/addy/internal/accounts"
	"github.com/hnrobert/addy/internal/cli"
	"github.com/hnrobert/addy/internal/config"
	"github.com/hnrobert/addy/internal/gitrepo"
	"github.com/hnrobert/addy/internal/provision"
	"github.com/hnrobert/addy/internal/sshkey"
	"github.com/hnrobert/addy/internal/sudoers"
	"github.com/hnrobert/addy/internal/syscmd"
)

type app struct {
	log *slog.Logger
}

func newApp(log *slog.Logger) *app {
	return &app{log: log}
}

func (a *app) settings() *config.Store {
	return config.NewStore(config.DefaultPath())
}

func (a *app) components() (*gitrepo.Repository, *accounts.Manager, *sudoers.Reconciler) {
	runner := syscmd.New()
	mgr := accounts.NewManager(runner, a.log)
	sudo := sudoers.New(runner, mgr, a.log)
	repo := gitrepo.New(a.settings(), a.log)
	return repo, mgr, sudo
}

func (a *app) provisioner() *provision.Provisioner {
	repo, mgr, sudo := a.components()
	return provision.New(repo, mgr, sudo, a.log)
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:    "addy",
		Summary: "Git-driven SSH access control",
		Subcommands: []*cli.Command{
			a.configCmd(),
			a.installCmd(),
			a.removeCmd(),
			a.syncCmd(),
			a.listCmd(),
			a.statusCmd(),
			a.verifyCmd(),
			{
				Name:    "version",
				Summary: "Show version information",
				Run: func(args []string) error {
					fmt.Printf("addy %s\n", version)
					return nil
				},
			},
		},
	}
}

func (a *app) configCmd() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "Manage addy configuration",
		Subcommands: []*cli.Command{
			{
				Name:    "set",
				Summary: "Set a configuration value",
				Usage:   "addy config set <key> <value>",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					if len(args) != 2 {
						return fmt.Errorf("usage: addy config set <key> <value>")
					}
					if err := a.settings().Set(args[0], args[1]); err != nil {
						return err
					}
					fmt.Printf("Set %s=%s\n", args[0], args[1])
					return nil
				},
			},
			{
				Name:    "get",
				Summary: "Get a configuration value",
				Usage:   "addy config get <key>",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					if len(args) != 1 {
						return fmt.Errorf("usage: addy config get <key>")
					}
					v, ok, err := a.settings().Get(args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("configuration key %q not found", args[0])
					}
					fmt.Println(v)
					return nil
				},
			},
			{
				Name:    "unset",
				Summary: "Remove a configuration value",
				Usage:   "addy config unset <key>",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					if len(args) != 1 {
						return fmt.Errorf("usage: addy config unset <key>")
					}
					removed, err := a.settings().Unset(args[0])
					if err != nil {
						return err
					}
					if !removed {
						return fmt.Errorf("configuration key %q not found", args[0])
					}
					fmt.Printf("Unset %s\n", args[0])
					return nil
				},
			},
			{
				Name:    "list",
				Summary: "List all configuration values",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					pairs, err := a.settings().List()
					if err != nil {
						return err
					}
					if len(pairs) == 0 {
						fmt.Println("No configuration found")
						return nil
					}
					for _, kv := range pairs {
						fmt.Printf("%s=%s\n", kv[0], kv[1])
					}
					return nil
				},
			},
		},
	}
}

func (a *app) installCmd() *cli.Command {
	return &cli.Command{
		Name:    "install",
		Summary: "Install a user or sudo package",
		Usage:   "addy install <user|sudo>/<name>",
		Run: func(args []string) error {
			if err := cli.RequireRoot(); err != nil {
				return err
			}
			if len(args) != 1 {
				return fmt.Errorf("usage: addy install <user|sudo>/<name>")
			}
			pkg, err := provision.ParsePackage(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Installing package: %s\n", pkg)
			if err := a.provisioner().Install(pkg); err != nil {
				return err
			}
			fmt.Printf("Package %s installed successfully\n", pkg)
			return nil
		},
	}
}

func (a *app) removeCmd() *cli.Command {
	var removeUser, deleteAccount bool
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a user or sudo package",
		Usage:   "addy remove <user|sudo>/<name> [--remove-user] [--delete-account]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("remove", pflag.ContinueOnError)
			fs.BoolVar(&removeUser, "remove-user", false,
				"also remove SSH access (sudo packages only)")
			fs.BoolVar(&deleteAccount, "delete-account", false,
				"also delete the account and its home directory")
			return fs
		},
		Run: func(args []string) error {
			if err := cli.RequireRoot(); err != nil {
				return err
			}
			if len(args) != 1 {
				return fmt.Errorf("usage: addy remove <user|sudo>/<name> [flags]")
			}
			pkg, err := provision.ParsePackage(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Removing package: %s\n", pkg)
			opts := provision.RemoveOptions{RemoveUser: removeUser, DeleteAccount: deleteAccount}
			if err := a.provisioner().Remove(pkg, opts); err != nil {
				return err
			}
			fmt.Printf("Package %s removed successfully\n", pkg)
			return nil
		},
	}
}

func (a *app) syncCmd() *cli.Command {
	return &cli.Command{
		Name:    "sync",
		Summary: "Sync with the Git repository",
		Run: func(args []string) error {
			if err := cli.RequireRoot(); err != nil {
				return err
			}
			repo, _, _ := a.components()
			if err := repo.Sync(); err != nil {
				return err
			}
			fmt.Println("Repository synced successfully")
			return nil
		},
	}
}

func (a *app) listCmd() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List managed users, sudo grants or repository keys",
		Subcommands: []*cli.Command{
			{
				Name:    "users",
				Summary: "Accounts with SSH access installed",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					_, mgr, _ := a.components()
					names, err := mgr.ListWithSSHAccess()
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Println(n)
					}
					return nil
				},
			},
			{
				Name:    "sudo",
				Summary: "Accounts with addy-managed sudo grants",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					_, _, sudo := a.components()
					names, err := sudo.ListManaged()
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Println(n)
					}
					return nil
				},
			},
			{
				Name:    "repo",
				Summary: "Users with a public key in the repository",
				Run: func(args []string) error {
					if err := cli.RequireRoot(); err != nil {
						return err
					}
					repo, _, _ := a.components()
					names, err := repo.ListUsers()
					if err != nil {
						return err
					}
					for _, n := range names {
						key, err := repo.PublicKey(n)
						if err != nil {
							fmt.Println(n)
							continue
						}
						if fp, ok := sshkey.Fingerprint(key); ok {
							fmt.Printf("%s\t%s\t%s\n", n, fp, sshkey.Comment(key))
						} else {
							fmt.Println(n)
						}
					}
					return nil
				},
			},
		},
	}
}

func (a *app) statusCmd() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Show account and sudo status for a user",
		Usage:   "addy status <name>",
		Run: func(args []string) error {
			if err := cli.RequireRoot(); err != nil {
				return err
			}
			if len(args) != 1 {
				return fmt.Errorf("usage: addy status <name>")
			}
			username := args[0]
			if !accounts.ValidUsername(username) {
				return fmt.Errorf("invalid username: %q", username)
			}
			_, mgr, sudo := a.components()
			info, ok := mgr.Info(username)
			if !ok {
				return fmt.Errorf("account %q does not exist", username)
			}
			fmt.Printf("user:        %s (uid %d, gid %d)\n", info.Username, info.UID, info.GID)
			fmt.Printf("home:        %s\n", info.Home)
			fmt.Printf("shell:       %s\n", info.Shell)
			fmt.Printf("ssh access:  %v (%d keys)\n", info.HasSSHAccess, info.SSHKeyCount)
			if gi, ok := sudo.Info(username); ok {
				fmt.Printf("sudo:        granted (%s, mode %o, managed=%v)\n", gi.Path, gi.Mode, gi.ToolManaged)
			} else {
				fmt.Printf("sudo:        not granted\n")
			}
			return nil
		},
	}
}

func (a *app) verifyCmd() *cli.Command {
	return &cli.Command{
		Name:    "verify",
		Summary: "Verify integrity of addy-managed sudoers files",
		Run: func(args []string) error {
			if err := cli.RequireRoot(); err != nil {
				return err
			}
			_, _, sudo := a.components()
			report, err := sudo.VerifyIntegrity()
			if err != nil {
				return err
			}
			for _, n := range report.Valid {
				fmt.Printf("ok\t%s\n", n)
			}
			for _, n := range report.Invalid {
				fmt.Printf("INVALID\t%s\n", n)
			}
			if len(report.Invalid) > 0 {
				return fmt.Errorf("%d sudoers file(s) failed validation", len(report.Invalid))
			}
			return nil
		},
	}
}
