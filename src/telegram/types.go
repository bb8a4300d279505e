package telegram

// Bot API wire types, limited to the fields the bot reads or writes.

type apiUpdate struct {
	UpdateID      int64        `json:"update_id"`
	Message       *apiMessage  `json:"message,omitempty"`
	EditedMessage *apiMessage  `json:"edited_message,omitempty"`
	CallbackQuery *apiCallback `json:"callback_query,omitempty"`
}

type apiMessage struct {
	MessageID int64     `json:"message_id"`
	Date      int64     `json:"date"`
	Chat      *apiChat  `json:"chat,omitempty"`
	From      *apiUser  `json:"from,omitempty"`
	Text      string    `json:"text,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Photo     []apiFile `json:"photo,omitempty"`
	Document  *apiFile  `json:"document,omitempty"`
	Sticker   *apiFile  `json:"sticker,omitempty"`
	Voice     *apiFile  `json:"voice,omitempty"`
	Audio     *apiFile  `json:"audio,omitempty"`
	Video     *apiFile  `json:"video,omitempty"`
	Location  *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location,omitempty"`
}

type apiChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type apiUser struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot,omitempty"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

type apiFile struct {
	FileID string `json:"file_id"`
}

type apiCallback struct {
	ID      string      `json:"id"`
	From    *apiUser    `json:"from,omitempty"`
	Message *apiMessage `json:"message,omitempty"`
	Data    string      `json:"data,omitempty"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

type apiInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type apiInlineKeyboard struct {
	InlineKeyboard [][]apiInlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64              `json:"chat_id"`
	Text        string             `json:"text"`
	ParseMode   string             `json:"parse_mode,omitempty"`
	ReplyMarkup *apiInlineKeyboard `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID      int64              `json:"chat_id"`
	MessageID   int                `json:"message_id"`
	Text        string             `json:"text"`
	ReplyMarkup *apiInlineKeyboard `json:"reply_markup,omitempty"`
}

type deleteMessageRequest struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}
