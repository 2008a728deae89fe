package widgetapi

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"market-dashboard-go/internal/bus"
	"market-dashboard-go/internal/selection"
)

// 客户端操作
const (
	opSubscribe        = "subscribe"
	opUnsubscribe      = "unsubscribe"
	opSelectInstrument = "selectInstrument"
	opSelectOrder      = "selectOrder"
	opSelectArticle    = "selectArticle"
	opClearOrder       = "clearOrder"
	opFocusInstrument  = "focusInstrument"
	opRefreshOrders    = "refreshOrders"
)

// 服务端消息类型
const (
	typeView  = "view"
	typeError = "error"
)

var validate = validator.New()

// clientMessage 组件发来的请求。Ref 由组件自行命名，用于区分同一连接上的多个订阅。
type clientMessage struct {
	Op             string                `json:"op" validate:"required,oneof=subscribe unsubscribe selectInstrument selectOrder selectArticle clearOrder focusInstrument refreshOrders"`
	Ref            string                `json:"ref" validate:"required_if=Op subscribe,required_if=Op unsubscribe,max=64"`
	Topics         []string              `json:"topics" validate:"required_if=Op subscribe"`
	Instrument     string                `json:"instrument"`
	AllInstruments bool                  `json:"allInstruments"`
	Period         string                `json:"period" validate:"omitempty,alphanum,max=8"`
	OrderID        string                `json:"orderId" validate:"required_if=Op selectOrder"`
	Article        *selection.ArticleRef `json:"article"`
}

// serverMessage 推送给组件的消息。
type serverMessage struct {
	Type  string    `json:"type"`
	Ref   string    `json:"ref,omitempty"`
	Op    string    `json:"op,omitempty"`
	View  *bus.View `json:"view,omitempty"`
	Error string    `json:"error,omitempty"`
}

func decodeClientMessage(raw []byte) (clientMessage, error) {
	var m clientMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	if err := validate.Struct(m); err != nil {
		return m, fmt.Errorf("invalid %q message: %w", m.Op, err)
	}
	return m, nil
}

func viewMessage(ref string, v bus.View) serverMessage {
	return serverMessage{Type: typeView, Ref: ref, View: &v}
}

func errorMessage(op, ref string, err error) serverMessage {
	return serverMessage{Type: typeError, Op: op, Ref: ref, Error: err.Error()}
}
