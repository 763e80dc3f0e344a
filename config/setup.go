package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Endpoints used to check credentials entered in the wizard.
var (
	telegramAPIURL = "https://api.telegram.org"
	geminiAPIURL   = "https://generativelanguage.googleapis.com"
)

// IsInteractiveTerminal reports whether both stdin and stdout are TTYs.
func IsInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RunSetupWizard asks for the required settings, writes them to config.env
// and sets them in the current process. withBot also asks for the Telegram
// token. Returns false if setup was aborted or failed.
func RunSetupWizard(withBot bool) bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("Listing Pipeline - First-time Setup"))
	fmt.Println()

	var geminiKey, botToken, publishEndpoint, publishToken string

	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewInput().
				Title("Gemini API Key").
				Description("Get yours at https://aistudio.google.com/apikey").
				Value(&geminiKey).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("API key is required")
					}
					return ValidateGeminiKey(context.Background(), s)
				}),
		),
	}
	if withBot {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token").
				Description("Message @BotFather on Telegram, send /newbot and copy the token").
				Value(&botToken).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("token is required")
					}
					return ValidateTelegramToken(context.Background(), s)
				}),
		))
	}
	groups = append(groups, huh.NewGroup(
		huh.NewInput().
			Title("Marketplace API endpoint (optional)").
			Description("Leave empty to generate drafts without publishing").
			Value(&publishEndpoint),
		huh.NewInput().
			Title("Marketplace API token (optional)").
			EchoMode(huh.EchoModePassword).
			Value(&publishToken),
	))

	if err := huh.NewForm(groups...).WithTheme(huh.ThemeBase16()).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{"GEMINI_API_KEY": geminiKey}
	if botToken != "" {
		values["BOT_TOKEN"] = botToken
	}
	if publishEndpoint != "" {
		values["PUBLISH_ENDPOINT"] = publishEndpoint
	}
	if publishToken != "" {
		values["PUBLISH_TOKEN"] = publishToken
	}

	configPath, err := EnvFilePath()
	if err == nil {
		err = WriteEnvFile(configPath, values)
	}
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		WaitOnWindows()
		return false
	}
	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pathStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	return true
}

// WriteEnvFile writes values to path with owner-only permissions, creating
// the directory if needed. Values already in the file are kept unless
// overwritten.
func WriteEnvFile(path string, values map[string]string) error {
	merged := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		merged = existing
	}
	for k, v := range values {
		merged[k] = v
	}

	content, err := godotenv.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateTelegramToken checks a bot token with the getMe method.
func ValidateTelegramToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	_, err := resty.New().R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&result).
		Get(telegramAPIURL + "/bot" + token + "/getMe")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.New("connection timed out, check your internet")
		}
		return errors.New("connection failed, check your internet")
	}
	if !result.OK {
		if result.Description != "" {
			return errors.New(result.Description)
		}
		return errors.New("token rejected by Telegram")
	}
	return nil
}

// ValidateGeminiKey checks an API key with the lightweight models list call.
func ValidateGeminiKey(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	res, err := resty.New().R().
		SetContext(ctx).
		SetQueryParam("key", key).
		SetError(&apiErr).
		Get(geminiAPIURL + "/v1beta/models")
	if err != nil {
		return errors.New("connection failed, check your internet")
	}
	switch code := res.StatusCode(); {
	case code == 400 || code == 401 || code == 403:
		if apiErr.Error.Message != "" {
			return errors.New(apiErr.Error.Message)
		}
		return fmt.Errorf("API key rejected (HTTP %d)", code)
	case code != 200:
		return fmt.Errorf("unexpected response (HTTP %d)", code)
	}
	return nil
}

// WaitOnWindows pauses so users can read errors before the console closes.
func WaitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

// FatalWithWait logs a fatal error and waits on Windows before exiting.
func FatalWithWait(format string, args ...any) {
	log.Error().Msgf(format, args...)
	WaitOnWindows()
	os.Exit(1)
}
