package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Command defines a bot command and its Telegram menu description.
type Command struct {
	Name        string // Command name without slash (e.g., "start")
	Description string
}

// botCommands is the single source of truth for command definitions.
var botCommands = []Command{
	{Name: "generate", Description: "Create a listing from the photos"},
	{Name: "publish", Description: "Publish the last draft"},
	{Name: "clear", Description: "Forget photos and draft"},
	{Name: "help", Description: "Show help"},
}

// RegisterCommands sets the bot's command menu in Telegram. Call once at
// startup.
func RegisterCommands(tg BotAPI) {
	commands := make([]tgbotapi.BotCommand, len(botCommands))
	for i, cmd := range botCommands {
		commands[i] = tgbotapi.BotCommand{
			Command:     cmd.Name,
			Description: cmd.Description,
		}
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	if _, err := tg.Request(config); err != nil {
		log.Error().Err(err).Msg("failed to set bot commands")
	} else {
		log.Info().Int("count", len(commands)).Msg("registered bot commands")
	}
}
