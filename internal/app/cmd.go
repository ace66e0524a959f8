package app

import (
	"fmt"
	"strconv"
	"strings"
)

// Command はmentorbookバイナリのサブコマンド。
type Command string

const (
	// CommandServe はHTTP APIを起動する。引数なしの場合の既定。
	CommandServe Command = "serve"
	// CommandWorker は学習リソースの取り込みとセッション掃除を常駐実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマのマイグレーションを操作する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// MigrateAction はmigrateサブコマンドの動作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	// 以下はCommandMigrateのときのみ使う
	Migrate MigrateAction
	Steps   int
}

// ParseCommand はos.Args[1:]からサブコマンドを解析する。
// 未知のサブコマンドはエラーにする。
//
//	mentorbook [serve|worker|healthcheck]
//	mentorbook migrate [up|down [N]|version]
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	cmd := Command(args[0])
	switch cmd {
	case CommandServe, CommandWorker, CommandHealthcheck:
		return Invocation{Command: cmd}, nil
	case CommandMigrate:
		return parseMigrate(args[1:])
	}
	return Invocation{}, fmt.Errorf("unknown command %q (available: %s)", args[0], usageList())
}

func parseMigrate(args []string) (Invocation, error) {
	inv := Invocation{Command: CommandMigrate, Migrate: MigrateUp}
	if len(args) == 0 {
		return inv, nil
	}

	switch MigrateAction(args[0]) {
	case MigrateUp:
	case MigrateVersion:
		inv.Migrate = MigrateVersion
	case MigrateDown:
		inv.Migrate = MigrateDown
		inv.Steps = 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return Invocation{}, fmt.Errorf("migrate down: invalid step count %q", args[1])
			}
			inv.Steps = n
		}
	default:
		return Invocation{}, fmt.Errorf("unknown migrate action %q (available: up, down, version)", args[0])
	}
	return inv, nil
}

func usageList() string {
	names := make([]string, len(knownCommands))
	for i, c := range knownCommands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
