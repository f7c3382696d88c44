package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"request-routing-api/config"
	"request-routing-api/models"
	"request-routing-api/services"
	"request-routing-api/utils"
	"request-routing-api/workflow"
)

type app struct {
	settings config.Settings
	openDB   func() (*gorm.DB, error)
	out      io.Writer

	db *gorm.DB
}

func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "routingctl",
		Short:         "Maintenance tasks for the request routing API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMigrateCommand(a),
		newHashPasswordsCommand(a),
		newCreateUserCommand(a),
		newRedeliverCommand(a),
		newAuditCommand(a),
	)
	return root
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			if err := db.WithContext(cmd.Context()).AutoMigrate(models.All()...); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(a.out, "Schema migrated")
			return nil
		},
	}
}

func newHashPasswordsCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "hash-passwords",
		Short: "Replace plaintext passwords with bcrypt hashes",
		Long: `Hash every stored password that is not already a bcrypt hash.
Rows that already hold a hash are skipped, so the command can be re-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			var users []models.User
			if err := db.WithContext(cmd.Context()).Find(&users).Error; err != nil {
				return fmt.Errorf("fetch users: %w", err)
			}
			save := func(user models.User, hash string) error {
				if dryRun {
					return nil
				}
				return db.WithContext(cmd.Context()).Model(&models.User{}).
					Where("user_id = ?", user.UserID).
					Update("password", hash).Error
			}
			updated, failed := hashPlaintextPasswords(users, save)
			fmt.Fprintf(a.out, "Password migration completed: %d updated, %d failed\n", updated, failed)
			if failed > 0 {
				return fmt.Errorf("%d passwords could not be updated", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	return cmd
}

// hashPlaintextPasswords hashes every non-empty password that is not a
// bcrypt hash and hands it to save.
func hashPlaintextPasswords(users []models.User, save func(models.User, string) error) (updated, failed int) {
	for _, user := range users {
		if user.Password == "" || utils.IsPasswordHash(user.Password) {
			continue
		}
		hashed, err := utils.HashPassword(user.Password)
		if err != nil {
			log.Printf("Failed to hash password for user %s: %v", user.Email, err)
			failed++
			continue
		}
		if err := save(user, hashed); err != nil {
			log.Printf("Failed to update password for user %s: %v", user.Email, err)
			failed++
			continue
		}
		log.Printf("Updated password for user %s", user.Email)
		updated++
	}
	return updated, failed
}

type newUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Role      string
	Password  string
	Superuser bool
}

// buildUser validates the input and returns a user with a hashed password.
func buildUser(in newUserInput, now time.Time) (models.User, error) {
	email := strings.ToLower(utils.SanitizeInput(in.Email))
	if !utils.ValidateEmail(email) {
		return models.User{}, &workflow.ValidationError{Field: "email", Reason: "invalid email address"}
	}
	if ok, reason := utils.ValidatePassword(in.Password); !ok {
		return models.User{}, &workflow.ValidationError{Field: "password", Reason: reason}
	}
	var role workflow.Role
	if strings.TrimSpace(in.Role) != "" {
		r, err := workflow.ParseRole(in.Role)
		if err != nil {
			return models.User{}, err
		}
		role = r
	} else if !in.Superuser {
		return models.User{}, &workflow.ValidationError{Field: "role", Reason: "role is required unless --superuser is set"}
	}
	hashed, err := utils.HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}
	return models.User{
		UserFname:   utils.SanitizeInput(in.FirstName),
		UserLname:   utils.SanitizeInput(in.LastName),
		Email:       email,
		Password:    hashed,
		RoleCode:    role,
		IsSuperuser: in.Superuser,
		CreateAt:    &now,
		UpdateAt:    &now,
	}, nil
}

func newCreateUserCommand(a *app) *cobra.Command {
	var in newUserInput
	cmd := &cobra.Command{
		Use:     "create-user",
		Short:   "Add a user holding one routing role",
		Example: `  routingctl create-user --email cro@your.org --role CRO --password 'change-me-now'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := buildUser(in, time.Now())
			if err != nil {
				return err
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			if err := db.WithContext(cmd.Context()).Create(&user).Error; err != nil {
				return fmt.Errorf("create user %s: %w", user.Email, err)
			}
			fmt.Fprintf(a.out, "Created user %d (%s, %s)\n", user.UserID, user.Email, user.RoleCode.Label())
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Role, "role", "", "routing role code, e.g. OE or CRO")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().BoolVar(&in.Superuser, "superuser", false, "grant privileged access")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRedeliverCommand(a *app) *cobra.Command {
	var retryAfter time.Duration
	cmd := &cobra.Command{
		Use:   "redeliver",
		Short: "Retry pending and failed notification deliveries once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			sinks, err := services.BuildNotificationSinks(a.settings, services.NewGormNotificationStore(db))
			if err != nil {
				return err
			}
			opts := services.DispatcherOptionsFrom(a.settings)
			opts.RetryAfter = retryAfter
			dispatcher := services.NewNotificationDispatcher(
				services.NewGormDeliveryStore(db),
				services.NewGormIdentityProvider(db),
				services.NewNotificationRenderer(services.NewGormTemplateSource(db)),
				opts,
				sinks...,
			)
			defer dispatcher.Close(context.Background())

			sent, err := dispatcher.Redeliver(cmd.Context())
			if err != nil {
				return fmt.Errorf("redeliver: %w", err)
			}
			fmt.Fprintf(a.out, "%d deliveries sent\n", sent)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retryAfter, "older-than", time.Minute, "only retry rows untouched for this long")
	return cmd
}

func newAuditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <submission-id|request-number>",
		Short: "Replay a submission history and check it against the stored routing",
		Example: `  routingctl audit 42
  routingctl audit REQ0042`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			repo := services.NewGormSubmissionRepository(db, a.settings.LockMode)
			history := services.NewHistoryService(repo, services.NewGormIdentityProvider(db))
			return runAudit(cmd.Context(), repo, history, args[0], a.out)
		},
	}
}

var errAuditMismatch = errors.New("history does not match stored routing")

func runAudit(ctx context.Context, repo services.SubmissionRepository, history *services.HistoryService, ref string, out io.Writer) error {
	ref = strings.TrimSpace(ref)
	var (
		sub *models.Submission
		err error
	)
	if id, perr := strconv.ParseUint(ref, 10, 64); perr == nil {
		sub, err = repo.Get(ctx, uint(id))
	} else {
		sub, err = repo.GetByNumber(ctx, ref)
	}
	if err != nil {
		return err
	}

	audit, verr := history.Audit(ctx, sub.SubmissionID)
	if verr != nil && len(audit.Steps) == 0 {
		return verr
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(audit); err != nil {
		return err
	}
	if verr != nil {
		return fmt.Errorf("%s: %w: %v", sub.RequestNumber, errAuditMismatch, verr)
	}
	return nil
}
