package session

import (
	"fmt"

	"golang.org/x/text/language"
)

type messages struct {
	ready       string
	listening   string
	stopped     string
	captureErr  string
	sending     string
	done        string
	failed      string
	unsupported string
}

var localeMatcher = language.NewMatcher([]language.Tag{
	language.Thai,
	language.English,
})

// resolveMessages picks the status table for a BCP-47 tag. Unknown or
// unparsable tags fall back to Thai.
func resolveMessages(tag string) messages {
	parsed, err := language.Parse(tag)
	if err != nil {
		return thaiMessages()
	}
	_, index, confidence := localeMatcher.Match(parsed)
	if confidence == language.No || index == 0 {
		return thaiMessages()
	}
	return englishMessages()
}

func thaiMessages() messages {
	return messages{
		ready:       "พร้อมพูด",
		listening:   "กำลังฟัง... พูดคำถามได้เลย",
		stopped:     "หยุดฟังแล้ว",
		captureErr:  "เกิดข้อผิดพลาด: %s",
		sending:     "ได้ข้อความแล้ว กำลังส่งไปถามระบบ...",
		done:        "เสร็จสิ้น",
		failed:      "เกิดข้อผิดพลาด",
		unsupported: "เครื่องนี้ไม่รองรับการรู้จำเสียงพูด",
	}
}

func englishMessages() messages {
	return messages{
		ready:       "ready to speak",
		listening:   "listening",
		stopped:     "stopped listening",
		captureErr:  "error: %s",
		sending:     "got transcript, sending to system",
		done:        "done",
		failed:      "error occurred",
		unsupported: "speech recognition is not available on this host",
	}
}

func (m messages) captureError(code string) string {
	return fmt.Sprintf(m.captureErr, code)
}
