package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"cqbridge/internal/domain"
)

const noCharacter = "未定义的角色信息。"

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string
	UseVoice bool
	Handled  bool // false lets the text continue down the pipeline
}

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: name, Args: parts[1:], Raw: text}
}

// ArgText returns everything after the command word, inner spacing kept.
func (c *ChatCommand) ArgText() string {
	head := strings.Fields(c.Raw)[0]
	return strings.TrimSpace(c.Raw[len(head):])
}

// Commands is the slash-command table.
type Commands struct {
	store     domain.HistoryStore
	character string
	modelName string
	startTime time.Time
	logger    *slog.Logger
}

type CommandsConfig struct {
	Store     domain.HistoryStore
	Character string // reply to /character; empty means undefined
	ModelName string
	StartTime time.Time
	Logger    *slog.Logger
}

func NewCommands(cfg CommandsConfig) *Commands {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Character == "" {
		cfg.Character = noCharacter
	}
	return &Commands{
		store:     cfg.Store,
		character: cfg.Character,
		modelName: cfg.ModelName,
		startTime: cfg.StartTime,
		logger:    cfg.Logger,
	}
}

// Handle runs cmd for the conversation cc. Unknown commands are not handled
// so the text can be answered like any other message.
func (c *Commands) Handle(ctx context.Context, cmd *ChatCommand, cc domain.ConversationContext) CommandResult {
	switch cmd.Name {
	case "help":
		return CommandResult{Response: helpText, Handled: true}

	case "character":
		return CommandResult{Response: c.character, Handled: true}

	case "clear":
		n, err := c.store.ClearHistory(ctx, cc)
		if err != nil {
			c.logger.Error("clear history failed", "error", err)
			return CommandResult{Response: "清除记录失败。", Handled: true}
		}
		return CommandResult{Response: fmt.Sprintf("已清除 %d 条对话记录。", n), Handled: true}

	case "status":
		return CommandResult{Response: c.statusText(ctx), Handled: true}

	case "uptime":
		return CommandResult{Response: "运行时间: " + c.uptime().String(), Handled: true}

	case "version":
		return CommandResult{Response: versionText(), Handled: true}

	case "say":
		if len(cmd.Args) == 0 {
			return CommandResult{Response: "用法: /say <内容>", Handled: true}
		}
		return CommandResult{Response: cmd.ArgText(), UseVoice: true, Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

// version is replaced at startup through SetVersion.
var version = "dev"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

func versionText() string {
	return fmt.Sprintf("cqbridge v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

const helpText = `可用命令:
/help 显示本帮助
/character 查看角色设定
/clear 清除当前会话的对话记录
/status 查看运行状态
/uptime 查看运行时间
/version 查看版本
/say <内容> 用语音说出内容`

func (c *Commands) uptime() time.Duration {
	return time.Since(c.startTime).Round(time.Second)
}

func (c *Commands) statusText(ctx context.Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cqbridge v%s\n", version)
	fmt.Fprintf(&sb, "模型: %s\n", c.modelName)
	if n, err := c.store.CountMessages(ctx); err == nil {
		fmt.Fprintf(&sb, "对话记录: %d 条\n", n)
	}
	fmt.Fprintf(&sb, "运行时间: %s", c.uptime())
	return sb.String()
}
