package deployment

import (
	"context"
	"fmt"
	"path"

	"codadeploy/internal/remote"
	"codadeploy/internal/security"
	"codadeploy/internal/website"
	"codadeploy/pkg/cmdutil"
)

const (
	supervisorConf = "codalab/config/generated/supervisor.conf"
	nodeSetupURL   = "https://deb.nodesource.com/setup_4.x"
)

// InstallMySQL choices.
const (
	ChoiceMySQL     = "mysql"
	ChoiceBundlesDB = "bundles_db"
	ChoiceAll       = "all"
)

// Install provisions the web hosts from scratch and then runs the core
// deployment. Cloning is skipped when a checkout already exists.
func (r *Runner) Install(ctx context.Context) error {
	s := r.settings
	for _, repo := range []string{s.WorksheetsRepo, s.BundlesRepo} {
		if err := security.ValidateGitURL(repo); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	steps := []step{
		r.sudo("installing base packages",
			cmdutil.New("apt-get", "install", "-y", "git", "xclip", "python-virtualenv", "virtualenvwrapper", "zip"),
			cmdutil.New("apt-get", "install", "-y", "python-dev", "libmysqlclient-dev", "libjpeg-dev"),
			cmdutil.New("apt-get", "install", "-y", "supervisor"),
		),
		r.sudo("installing nginx",
			cmdutil.New("apt-get", "install", "-y", "python-software-properties"),
			cmdutil.New("add-apt-repository", "-y", "ppa:nginx/stable"),
			cmdutil.New("apt-get", "update"),
			cmdutil.New("apt-get", "install", "-y", "nginx"),
		),
		r.sudo("installing node.js",
			cmdutil.New("curl", "-sL", nodeSetupURL).Pipe(cmdutil.Script("bash -")),
			cmdutil.New("apt-get", "install", "-y", "nodejs"),
		),
		r.run("cloning repositories",
			ensureClone(s.WorksheetsRepo, s.WorksheetsDir),
			ensureClone(s.BundlesRepo, s.BundlesDir),
		),
		r.run("setting up "+s.WorksheetsDir,
			checkout(s.WorksheetsTag).In(s.WorksheetsDir),
			cmdutil.New("./setup.sh").In(s.WorksheetsDir),
		),
		r.run("setting up "+s.BundlesDir,
			checkout(s.BundlesTag).In(s.BundlesDir),
			cmdutil.New("./setup.sh", "server").In(s.BundlesDir),
		),
		{"deploying", r.CoreDeploy},
	}

	return r.runSteps(ctx, steps)
}

func ensureClone(repo, dest string) cmdutil.Command {
	return cmdutil.New("test", "-e", dest).Or(cmdutil.New("git", "clone", repo, dest))
}

// InstallMySQL installs a local MySQL server and/or creates the bundle service
// database. An empty choice means all. Creating the database requires exactly
// one web host.
func (r *Runner) InstallMySQL(ctx context.Context, choice string) error {
	var withServer, withBundlesDB bool
	switch choice {
	case ChoiceMySQL:
		withServer = true
	case ChoiceBundlesDB:
		withBundlesDB = true
	case ChoiceAll, "":
		withServer, withBundlesDB = true, true
	default:
		return fmt.Errorf("%w: invalid choice %q (valid: %s, %s, %s)", ErrInvalidArgument, choice, ChoiceMySQL, ChoiceBundlesDB, ChoiceAll)
	}

	db := r.cfg.Service.Database
	if withBundlesDB {
		if n := len(r.web.Hosts); n != 1 {
			return fmt.Errorf("%w: creating the bundle service database requires exactly one web instance, found %d", ErrInvalidArgument, n)
		}
		for _, v := range []struct{ key, value string }{
			{"database.bundle_db_name", db.BundleDBName},
			{"database.bundle_user", db.BundleUser},
		} {
			if err := security.ValidateSQLIdentifier(v.value); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, v.key, err)
			}
		}
	}

	var steps []step
	if withServer {
		steps = append(steps, r.sudo("installing mysql server",
			cmdutil.New("apt-get", "install", "-y", "mysql-server").Env(map[string]string{"DEBIAN_FRONTEND": "noninteractive"}),
			cmdutil.New("mysqladmin", "-u", "root", "password", db.AdminPassword).Secret(db.AdminPassword),
		))
	}
	if withBundlesDB {
		sql := fmt.Sprintf("create database %s; create user %s@'localhost' IDENTIFIED BY %s; GRANT ALL PRIVILEGES ON %s.* TO %s@'localhost' WITH GRANT OPTION;",
			db.BundleDBName,
			security.QuoteSQLString(db.BundleUser),
			security.QuoteSQLString(db.BundlePassword),
			db.BundleDBName,
			security.QuoteSQLString(db.BundleUser),
		)
		steps = append(steps, r.run("creating bundle service database",
			cmdutil.New("mysql", "--user=root", "--password="+db.AdminPassword, "--execute="+sql).
				Secret(db.AdminPassword, db.BundlePassword, security.QuoteSQLString(db.BundlePassword)),
		))
	}

	return r.runSteps(ctx, steps)
}

// Deploy wraps the core deployment in maintenance mode with the supervised
// processes stopped.
func (r *Runner) Deploy(ctx context.Context) error {
	return r.runSteps(ctx, []step{
		{"entering maintenance mode", func(ctx context.Context) error { return r.Maintenance(ctx, "begin") }},
		{"stopping supervisor", func(ctx context.Context) error { return r.Supervisor(ctx, "stop") }},
		{"deploying", r.CoreDeploy},
		{"starting supervisor", func(ctx context.Context) error { return r.Supervisor(ctx, "start") }},
		{"leaving maintenance mode", func(ctx context.Context) error { return r.Maintenance(ctx, "end") }},
	})
}

// CoreDeploy updates both checkouts, pushes the generated configuration and
// migrates the bundle database.
func (r *Runner) CoreDeploy(ctx context.Context) error {
	s := r.settings
	cfg := r.cfg
	email := cfg.Global.Email
	db := cfg.Service.Database

	siteDir := path.Join(s.WorksheetsDir, "codalab")
	binDir := path.Join(s.BundlesDir, "codalab", "bin")
	engineURL := fmt.Sprintf("mysql://%s:%s@localhost:3306/%s", db.BundleUser, db.BundlePassword, db.BundleDBName)

	steps := []step{
		r.run("updating "+s.WorksheetsDir,
			cmdutil.New("git", "fetch").In(s.WorksheetsDir),
			checkout(s.WorksheetsTag).In(s.WorksheetsDir),
			cmdutil.New("git", "pull").In(s.WorksheetsDir),
			cmdutil.New("./setup.sh").In(s.WorksheetsDir),
		),
		r.run("updating "+s.BundlesDir,
			cmdutil.New("git", "fetch").In(s.BundlesDir),
			checkout(s.BundlesTag).In(s.BundlesDir),
			cmdutil.New("git", "pull").In(s.BundlesDir),
			cmdutil.New("./setup.sh", "server").In(s.BundlesDir),
		),
		{"uploading website config", r.uploadWebsiteConfig},
		r.run("generating server configuration",
			cmdutil.New("./manage", "config_gen").In(siteDir),
		),
		r.sudo("linking server configuration",
			cmdutil.Script(`ln -sf "$(pwd)"/config/generated/nginx.conf /etc/nginx/sites-enabled/codalab.conf`).In(siteDir),
			cmdutil.Script(`ln -sf "$(pwd)"/config/generated/supervisor.conf /etc/supervisor/conf.d/codalab.conf`).In(siteDir),
		),
		{"installing SSL certificate", r.installCertificate},
		r.run("configuring bundle service",
			cmdutil.New("./cl", "config", "server/engine_url", engineURL).In(binDir).Secret(db.BundlePassword),
			cmdutil.New("./cl", "config", "email/host", email.Host).In(binDir),
			cmdutil.New("./cl", "config", "email/user", email.User).In(binDir),
			cmdutil.New("./cl", "config", "email/password", email.Password).In(binDir).Secret(email.Password),
			cmdutil.New("./cl", "config", "server/admin_email", cfg.Global.AdminEmail).In(binDir),
			cmdutil.New("./cl", "config", "server/instance_name", cfg.Label).In(binDir),
		),
		r.run("migrating bundle database",
			cmdutil.New("venv/bin/alembic", "upgrade", "head").In(s.BundlesDir),
		),
		r.run("creating root user",
			cmdutil.New("scripts/create-root-user.py", db.AdminPassword).In(s.BundlesDir).Secret(db.AdminPassword),
		),
	}

	return r.runSteps(ctx, steps)
}

func (r *Runner) uploadWebsiteConfig(ctx context.Context) error {
	content, err := website.Marshal(website.Build(r.cfg))
	if err != nil {
		return err
	}
	return r.web.Put(ctx, content, website.RemotePath, remote.PutOptions{Mode: security.PermConfigFile})
}

// installCertificate uploads the SSL certificate and key only when both are
// configured.
func (r *Runner) installCertificate(ctx context.Context) error {
	certPath := r.cfg.SSLCertificateInstalledPath()
	keyPath := r.cfg.SSLCertificateKeyInstalledPath()
	if certPath == "" || keyPath == "" {
		r.logger.Info("Skipping certificate installation because both files are not specified")
		return nil
	}

	ssl := r.cfg.Service.SSL
	cert, err := r.readLocal(ssl.Filename)
	if err != nil {
		return err
	}
	key, err := r.readLocal(ssl.KeyFilename)
	if err != nil {
		return err
	}

	if err := r.web.Put(ctx, cert, certPath, remote.PutOptions{Sudo: true, Mode: security.PermPublicFile}); err != nil {
		return err
	}
	return r.web.Put(ctx, key, keyPath, remote.PutOptions{Sudo: true, Mode: security.PermPrivateKey})
}

// MigrateDB moves the bundle database to revision after checking out tag (or
// the pinned bundle service tag). When the upgrade fails a downgrade to the
// same revision is attempted once.
func (r *Runner) MigrateDB(ctx context.Context, revision, tag string) error {
	if err := security.ValidateRevision(revision); err != nil {
		return fmt.Errorf("%w: revision: %v", ErrInvalidArgument, err)
	}
	if tag != "" {
		if err := security.ValidateGitRef(tag); err != nil {
			return fmt.Errorf("%w: tag: %v", ErrInvalidArgument, err)
		}
	} else {
		tag = r.settings.BundlesTag
	}

	dir := r.settings.BundlesDir
	upgrade := cmdutil.New("venv/bin/alembic", "upgrade", revision).In(dir)
	downgrade := cmdutil.New("venv/bin/alembic", "downgrade", revision).In(dir)

	return r.runSteps(ctx, []step{
		r.run("updating "+dir,
			cmdutil.New("git", "fetch").In(dir),
			checkout(tag).In(dir),
			cmdutil.New("git", "pull").In(dir),
		),
		{"migrating to " + revision, func(ctx context.Context) error {
			return r.web.Each(ctx, func(ctx context.Context, host string) error {
				return r.migrateHost(ctx, host, revision, upgrade, downgrade)
			})
		}},
	})
}

func (r *Runner) migrateHost(ctx context.Context, host, revision string, upgrade, downgrade cmdutil.Command) error {
	exec := r.web.Executor

	r.logger.Info("Running command", "role", WebRole, "host", host, "command", upgrade.Redacted())
	_, upErr := exec.Run(ctx, host, upgrade, remote.RunOptions{})
	if upErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return upErr
	}

	r.logger.Warn("Upgrade failed, attempting downgrade", "host", host, "revision", revision, "error", upErr)
	r.progress.Warn(fmt.Sprintf("upgrade to %s failed on %s, downgrading", revision, host))

	if _, downErr := exec.Run(ctx, host, downgrade, remote.RunOptions{}); downErr != nil {
		return &MigrationError{Host: host, Revision: revision, Upgrade: upErr, Downgrade: downErr}
	}
	return nil
}

// Maintenance regenerates the nginx configuration with maintenance mode on
// ("begin") or off ("end") and restarts nginx.
func (r *Runner) Maintenance(ctx context.Context, mode string) error {
	var on bool
	switch mode {
	case "begin":
		on = true
	case "end":
		on = false
	default:
		return fmt.Errorf("%w: invalid mode %q (valid: begin, end)", ErrInvalidArgument, mode)
	}

	siteDir := path.Join(r.settings.WorksheetsDir, "codalab")
	return r.runSteps(ctx, []step{
		r.run("regenerating nginx configuration",
			r.appEnv(cmdutil.New("python", "manage.py", "config_gen").In(siteDir), &on),
		),
		r.nginxRestart(),
	})
}

// Supervisor starts, stops or restarts the supervised application processes.
func (r *Runner) Supervisor(ctx context.Context, command string) error {
	var cmds []cmdutil.Command
	switch command {
	case "start":
		cmds = []cmdutil.Command{
			cmdutil.Script("mkdir -p ~/logs"),
			cmdutil.New("supervisord", "-c", supervisorConf),
		}
	case "stop":
		cmds = []cmdutil.Command{
			cmdutil.New("supervisorctl", "-c", supervisorConf, "stop", "all"),
			cmdutil.New("supervisorctl", "-c", supervisorConf, "shutdown"),
		}
	case "restart":
		cmds = []cmdutil.Command{
			cmdutil.New("supervisorctl", "-c", supervisorConf, "restart", "all"),
		}
	default:
		return fmt.Errorf("%w: unknown supervisor command %q (valid: start, stop, restart)", ErrInvalidArgument, command)
	}

	for i, cmd := range cmds {
		cmds[i] = r.appEnv(cmd.In(r.settings.WorksheetsDir), nil)
	}
	return r.runSteps(ctx, []step{r.run("supervisor "+command, cmds...)})
}

// NginxRestart restarts nginx on the web hosts.
func (r *Runner) NginxRestart(ctx context.Context) error {
	return r.runSteps(ctx, []step{r.nginxRestart()})
}

func (r *Runner) nginxRestart() step {
	return r.sudo("restarting nginx", cmdutil.New("/etc/init.d/nginx", "restart"))
}
