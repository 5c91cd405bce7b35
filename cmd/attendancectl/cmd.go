package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/service"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type staffCreator interface {
	CreateStaff(ctx context.Context, req models.CreateStaffRequest) (*models.UserInfo, error)
}

type periodSeeder interface {
	Seed(ctx context.Context, periods []models.Period) error
}

type commandLine struct {
	out      io.Writer
	migrate  func(command string, args ...string) error
	periods  periodSeeder
	staff    staffCreator
	schedule string
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate [up|down|status|version|redo|reset]   - run database migrations")
	fmt.Fprintln(cli.out, "  seed-periods [-schedule LIST]                  - replace the period timetable")
	fmt.Fprintln(cli.out, "  create-admin -username NAME -email EMAIL [-name FULL] [-role ADMIN|TEACHER]")
	fmt.Fprintln(cli.out, "                                                 - create a staff account; the password is prompted")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		command := "up"
		if len(args) > 2 {
			command = args[2]
		}
		var rest []string
		if len(args) > 3 {
			rest = args[3:]
		}
		if err := cli.migrate(command, rest...); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "migrate %s: done\n", command)
		return nil

	case "seed-periods":
		seedCmd := flag.NewFlagSet("seed-periods", flag.ContinueOnError)
		seedCmd.SetOutput(cli.out)
		schedule := seedCmd.String("schedule", cli.schedule, "Periods as n,HH:MM,HH:MM,label[,break] separated by ';'")
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		periods, err := service.ParsePeriodSchedule(*schedule)
		if err != nil {
			return err
		}
		if err := cli.periods.Seed(ctx, periods); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "seeded %d periods\n", len(periods))
		return nil

	case "create-admin":
		createCmd := flag.NewFlagSet("create-admin", flag.ContinueOnError)
		createCmd.SetOutput(cli.out)
		username := createCmd.String("username", "", "Login name")
		email := createCmd.String("email", "", "Email address")
		fullName := createCmd.String("name", "Administrator", "Display name")
		role := createCmd.String("role", string(models.RoleAdmin), "ADMIN or TEACHER")
		if err := createCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *username == "" || *email == "" {
			createCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			createCmd.Usage()
			return errHelp
		}
		user, err := cli.staff.CreateStaff(ctx, models.CreateStaffRequest{
			Username: *username,
			Email:    *email,
			FullName: *fullName,
			Password: string(pwd),
			Role:     models.UserRole(*role),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "created %s %s (%s)\n", user.Role, user.Username, user.ID)
		return nil

	default:
		cli.printUsage()
		return errHelp
	}
}
