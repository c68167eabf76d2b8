// Package i18n holds the user-facing strings for the supported languages
// and the answer-language directive sent with every question.
package i18n

import (
	"fmt"
	"sort"
	"strings"
)

// Lang is a supported interface language.
type Lang string

const (
	English Lang = "en"
	Chinese Lang = "zh"
)

// Default is the language used when none is selected.
const Default = English

// Message keys.
const (
	Title            = "title"
	Slogan           = "slogan"
	Describe         = "desc"
	Response         = "response"
	Feedback         = "feedback"
	InputPlaceholder = "input_placeholder"
	UserLabel        = "user_label"
	AssistantLabel   = "assistant_label"
	WarnEmptyText    = "warning_empty_text"
	WarnNeedImage    = "warning_image_and_question"
	WarnOversize     = "warning_oversize"
	WarnUnsupported  = "warning_unsupported"
	WarnDimensions   = "warning_dimensions"
	WarnAudio        = "warning_audio"
	VoiceRecognized  = "voice_recognized"
	WarnBusy         = "warning_busy"
	GenerationFailed = "generation_failed"
	Discarded        = "discarded"
	ImageStaged      = "image_staged"
	SessionReset     = "session_reset"
	LanguageChanged  = "language_changed"
	Thinking         = "thinking"
	HistoryEmpty     = "history_empty"
	HelpText         = "help"
)

var messages = map[Lang]map[string]string{
	English: {
		Title:            "Cultural-Tour-Mate",
		Slogan:           "Your trustworthy, insightful, and articulate cultural companion in tour.",
		Describe:         "Describe what you want to learn about the image:",
		Response:         "Cultural Insight",
		Feedback:         "Was this helpful? Feel free to ask more.",
		InputPlaceholder: "Type your question here...",
		UserLabel:        "You",
		AssistantLabel:   "TourMate",
		WarnEmptyText:    "Please type a question first.",
		WarnNeedImage:    "Please upload or capture an image and enter a question.",
		WarnOversize:     "The image is too large (%s). The limit is %s.",
		WarnUnsupported:  "Only JPEG, PNG and WebP images are supported.",
		WarnDimensions:   "The image resolution is too high. Please use a smaller photo.",
		WarnAudio:        "Voice questions must be MP3 or WAV recordings.",
		VoiceRecognized:  "You asked: %s",
		WarnBusy:         "Still working on your previous question.",
		GenerationFailed: "Sorry, I could not get an answer right now. Please try again.",
		Discarded:        "The previous answer was discarded because the session was reset.",
		ImageStaged:      "Image ready (%s).",
		SessionReset:     "Conversation cleared.",
		LanguageChanged:  "Language set to English.",
		Thinking:         "Generating insight...",
		HistoryEmpty:     "No conversation yet.",
		HelpText: "Commands:\n" +
			"  /image <path>   stage a photo\n" +
			"  /voice <path>   ask by voice (mp3/wav)\n" +
			"  /lang <en|zh>   switch language\n" +
			"  /history        show the conversation\n" +
			"  /reset          clear the conversation\n" +
			"  /quit           leave",
	},
	Chinese: {
		Title:            "AI文化旅伴",
		Slogan:           "您诚实而智慧的旅行伙伴。",
		Describe:         "描述您想了解的图像内容：",
		Response:         "文化背景信息",
		Feedback:         "这个回答有帮助吗？欢迎继续提问。",
		InputPlaceholder: "请输入您的问题...",
		UserLabel:        "您",
		AssistantLabel:   "旅伴",
		WarnEmptyText:    "请先输入您的问题。",
		WarnNeedImage:    "请上传或拍摄一张图片并输入问题。",
		WarnOversize:     "图片过大（%s），上限为 %s。",
		WarnUnsupported:  "仅支持 JPEG、PNG 和 WebP 图片。",
		WarnDimensions:   "图片分辨率过高，请使用较小的照片。",
		WarnAudio:        "语音问题须为 MP3 或 WAV 录音。",
		VoiceRecognized:  "您的问题：%s",
		WarnBusy:         "正在处理上一个问题，请稍候。",
		GenerationFailed: "抱歉，暂时无法获取回答，请重试。",
		Discarded:        "会话已重置，上一条回答已丢弃。",
		ImageStaged:      "图片已就绪（%s）。",
		SessionReset:     "对话已清空。",
		LanguageChanged:  "语言已切换为中文。",
		Thinking:         "正在生成文化解读...",
		HistoryEmpty:     "暂无对话。",
		HelpText: "命令：\n" +
			"  /image <路径>   上传图片\n" +
			"  /voice <路径>   语音提问（mp3/wav）\n" +
			"  /lang <en|zh>   切换语言\n" +
			"  /history        查看对话\n" +
			"  /reset          清空对话\n" +
			"  /quit           退出",
	},
}

var directives = map[Lang]string{
	English: "Please answer in English.",
	Chinese: "请用中文回答。",
}

var transcriptionPrompts = map[Lang]string{
	English: "Transcribe the spoken question in this recording. The speaker most likely uses English. Reply with the transcription only.",
	Chinese: "请转写这段录音中的问题。说话人很可能使用中文。只输出转写文字。",
}

// Parse resolves a language code or display name.
func Parse(s string) (Lang, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "en-us", "en-gb", "english":
		return English, nil
	case "zh", "zh-cn", "zh-hans", "chinese", "中文":
		return Chinese, nil
	default:
		return "", fmt.Errorf("unsupported language %q (supported: %s)", s, strings.Join(Supported(), ", "))
	}
}

// Supported lists the supported language codes.
func Supported() []string {
	codes := make([]string, 0, len(messages))
	for l := range messages {
		codes = append(codes, string(l))
	}
	sort.Strings(codes)
	return codes
}

// T returns the message for key, falling back to English and then to the
// key itself.
func T(lang Lang, key string) string {
	if m, ok := messages[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := messages[Default][key]; ok {
		return s
	}
	return key
}

// Tf formats the message for key.
func Tf(lang Lang, key string, args ...any) string {
	return fmt.Sprintf(T(lang, key), args...)
}

// Directive is the instruction asking the model to answer in lang. It is
// sent with each question and never stored in the transcript.
func Directive(lang string) string {
	if d, ok := directives[Lang(lang)]; ok {
		return d
	}
	return ""
}

// TranscriptionPrompt is the instruction sent with a recorded question,
// hinting at the expected spoken language.
func TranscriptionPrompt(lang string) string {
	if p, ok := transcriptionPrompts[Lang(lang)]; ok {
		return p
	}
	return transcriptionPrompts[Default]
}
