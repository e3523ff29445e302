package logger

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Color palettes for different themes
const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// Gruvbox Dark color palette (warm, muted, easy on eyes)
type gruvboxColors struct {
	fg       string
	orange   string
	yellow   string
	green    string
	blue     string
	purple   string
	red      string
	redBg    string
	yellowBg string
}

var gruvbox = gruvboxColors{
	fg:       "\x1b[38;5;223m",
	orange:   "\x1b[38;5;208m",
	yellow:   "\x1b[38;5;214m",
	green:    "\x1b[38;5;142m",
	blue:     "\x1b[38;5;109m",
	purple:   "\x1b[38;5;175m",
	red:      "\x1b[38;5;167m",
	redBg:    "\x1b[48;5;88m",
	yellowBg: "\x1b[48;5;58m",
}

// Everforest Dark color palette (natural forest greens)
type everforestColors struct {
	fg          string
	greenBright string
	greenMid    string
	greenDeep   string
	aqua        string
	orange      string
	yellow      string
	red         string
	redBg       string
	yellowBg    string
}

var everforest = everforestColors{
	fg:          "\x1b[38;5;223m",
	greenBright: "\x1b[38;5;108m",
	greenMid:    "\x1b[38;5;107m",
	greenDeep:   "\x1b[38;5;65m",
	aqua:        "\x1b[38;5;109m",
	orange:      "\x1b[38;5;208m",
	yellow:      "\x1b[38;5;179m",
	red:         "\x1b[38;5;167m",
	redBg:       "\x1b[48;5;52m",
	yellowBg:    "\x1b[48;5;58m",
}

// currentTheme is set by logger.Initialize from config.
var currentTheme = "everforest"

// SetTheme configures the color scheme for log output.
func SetTheme(theme string) {
	if theme == "everforest" || theme == "gruvbox" {
		currentTheme = theme
	}
}

func colorTime() string {
	if currentTheme == "everforest" {
		return everforest.greenMid
	}
	return gruvbox.blue
}

// colorComponent picks a stable color per logger name so related
// subsystems (gateway.hub, gateway.node, gateway.cron, ...) are visually
// distinguishable without a lookup table.
func colorComponent(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}

	if currentTheme == "everforest" {
		switch hash % 3 {
		case 0:
			return everforest.greenBright
		case 1:
			return everforest.greenDeep
		default:
			return everforest.orange
		}
	}

	if hash%2 == 0 {
		return gruvbox.orange
	}
	return gruvbox.yellow
}

// bracketPattern matches context markers like [conn:abc] or [cron].
var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// colorizeMessage applies context-aware colorization to bracketed segments
// of a log message (e.g. "[conn:xyz]", "[node:alpha]").
func colorizeMessage(msg string) string {
	idColor, stageColor, baseColor := colorID(), colorStage(), colorFg()

	result := strings.Builder{}
	lastIndex := 0

	matches := bracketPattern.FindAllStringSubmatchIndex(msg, -1)
	for _, match := range matches {
		textBefore := msg[lastIndex:match[0]]
		if textBefore != "" {
			result.WriteString(baseColor)
			result.WriteString(textBefore)
			result.WriteString(colorReset)
		}

		content := msg[match[2]:match[3]]
		color := stageColor
		if strings.Contains(content, ":") {
			color = idColor
		}

		result.WriteString(color)
		result.WriteString(msg[match[0]:match[1]])
		result.WriteString(colorReset)

		lastIndex = match[1]
	}

	remaining := msg[lastIndex:]
	if remaining != "" {
		result.WriteString(baseColor)
		result.WriteString(remaining)
		result.WriteString(colorReset)
	}

	return result.String()
}

func colorStage() string {
	if currentTheme == "everforest" {
		return everforest.orange
	}
	return gruvbox.orange
}

func colorID() string {
	if currentTheme == "everforest" {
		return everforest.aqua
	}
	return gruvbox.blue
}

func colorNumber() string {
	if currentTheme == "everforest" {
		return everforest.greenBright
	}
	return gruvbox.purple
}

func colorFg() string {
	if currentTheme == "everforest" {
		return everforest.fg
	}
	return gruvbox.fg
}

func colorWarn() (string, string) {
	if currentTheme == "everforest" {
		return everforest.yellow, everforest.yellowBg
	}
	return gruvbox.yellow, gruvbox.yellowBg
}

func colorError() (string, string) {
	if currentTheme == "everforest" {
		return everforest.red, everforest.redBg
	}
	return gruvbox.red, gruvbox.redBg
}

// minimalEncoder implements a calm, compact console encoder with theme support.
// Format: "13:04:35  g.hub  Client connected  [conn:127.0.0.1:52289]"
type minimalEncoder struct {
	zapcore.Encoder
	buf *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	baseEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return &minimalEncoder{
		Encoder: baseEncoder,
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(colorTime())
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorizeMessage(ent.Message))

	if len(fields) > 0 {
		final.AppendString("  ")
		final.AppendString(extractFieldValues(fields))
	}

	final.AppendString("\n")
	return final, nil
}

func levelColorString(level zapcore.Level) string {
	warnColor, warnBg := colorWarn()
	errColor, errBg := colorError()

	switch level {
	case zapcore.WarnLevel:
		return colorBold + warnBg + warnColor + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + errBg + errColor + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + errBg + errColor + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens dotted component names: gateway.hub -> g.hub
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func getFieldValue(field zapcore.Field) string {
	if field.Type == zapcore.StringType {
		return field.String
	}

	switch field.Type {
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	}

	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}

	return ""
}

// extractFieldValues pulls the gateway's own hot fields (connection, node,
// call and transfer ids; durations) out of structured fields and renders
// them with theme-aware colors, instead of dumping the full key=value set.
func extractFieldValues(fields []zapcore.Field) string {
	var values []string

	for _, field := range fields {
		switch field.Key {
		case "connId", "nodeId", "callId", "transferId", "sessionKey":
			if val := getFieldValue(field); val != "" {
				values = append(values, colorID()+val+colorReset)
			}
		case "durationMs":
			if val := getFieldValue(field); val != "" {
				values = append(values, colorNumber()+val+colorReset+"ms")
			}
		case "method":
			if val := getFieldValue(field); val != "" {
				values = append(values, colorStage()+val+colorReset)
			}
		}
	}

	if len(values) == 0 {
		return ""
	}

	return strings.Join(values, " ")
}
