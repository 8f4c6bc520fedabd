package agent

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cqbridge/internal/domain"
	"cqbridge/internal/intent"
)

type postFixture struct {
	out   *outbox
	store *memStore
	voice *fakeVoice
	image *fakeImage
	rec   *fakeRecognizer
	pp    *PostProcessor
}

func newPostFixture(normalized bool) *postFixture {
	f := &postFixture{
		out:   &outbox{},
		store: &memStore{},
		voice: &fakeVoice{url: "http://voice/a.mp3"},
		image: &fakeImage{url: "http://img/a.png"},
		rec:   &fakeRecognizer{result: "一只猫"},
	}
	f.pp = NewPostProcessor(PostProcessorConfig{
		Deliver:             f.out,
		Store:               f.store,
		Voice:               f.voice,
		Image:               intent.NewImage(f.image, []string{"/draw"}),
		Recognition:         intent.NewRecognition(f.rec),
		UseNormalizedPrompt: normalized,
		VoiceTimeout:        50 * time.Millisecond,
		Logger:              testLogger(),
	})
	return f
}

func userTurn(text string) Turn {
	ev := domain.InboundEvent{Kind: domain.KindPrivate, Sender: domain.Sender{UserID: 7, Nickname: "小明"}, RawText: text, Trace: "t1"}
	return Turn{Event: ev, Context: ev.Context(), Text: text, Tagged: "小明: " + text}
}

func TestProcess_PlainRelay(t *testing.T) {
	f := newPostFixture(false)
	f.pp.Process(context.Background(), userTurn("hi"), "你好")

	admin := userTurn("hi")
	admin.IsAdmin = true
	f.pp.Process(context.Background(), admin, "主人好")

	want := []string{"小明，你好", "主人好"}
	if got := f.out.texts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	if len(f.store.saved()) != 0 {
		t.Fatal("plain relay persists nothing itself")
	}
}

func TestProcess_VoiceSuccess(t *testing.T) {
	f := newPostFixture(false)
	f.pp.Process(context.Background(), userTurn("唱歌"), "好的\n#voice 啦啦\n啦 (轻声)")

	if got := f.out.texts(); !reflect.DeepEqual(got, []string{"[CQ:record,file=http://voice/a.mp3]"}) {
		t.Fatalf("delivered %v", got)
	}
	if f.voice.texts[0] != "啦啦.啦 " {
		t.Fatalf("unexpected voice text %q", f.voice.texts[0])
	}
	saved := f.store.saved()
	if len(saved) != 1 || saved[0].AssistantText != "[CQ:record,file=http://voice/a.mp3]" || saved[0].UserText != "小明: 唱歌" {
		t.Fatalf("unexpected persisted %+v", saved)
	}
}

func TestProcess_VoiceFailures(t *testing.T) {
	tests := []struct {
		name  string
		voice *fakeVoice
		want  string
	}{
		{"nil result", &fakeVoice{}, noticeVoiceFailed},
		{"error", &fakeVoice{err: errors.New("tts down")}, noticeVoiceFailed},
		{"timeout", &fakeVoice{hang: true}, noticeVoiceTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostFixture(false)
			f.pp.voice = tt.voice
			f.pp.Process(context.Background(), userTurn("x"), "#voice hi")
			if got := f.out.texts(); !reflect.DeepEqual(got, []string{tt.want}) {
				t.Fatalf("delivered %v, want %q", got, tt.want)
			}
			if len(f.store.saved()) != 0 {
				t.Fatal("failures persist nothing")
			}
		})
	}
}

func TestProcess_VoiceBeatsDraw(t *testing.T) {
	f := newPostFixture(false)
	f.pp.Process(context.Background(), userTurn("x"), "#draw a cat\n#voice 喵")
	if len(f.image.prompts) != 0 {
		t.Fatal("draw must not run when #voice is present")
	}
	if len(f.voice.texts) != 1 {
		t.Fatal("voice must run")
	}
}

func TestProcess_HistoryTurnSuppressesDirectives(t *testing.T) {
	f := newPostFixture(false)
	f.pp.Process(context.Background(), userTurn("!history"), "上次你说 #draw a cat")
	if len(f.image.prompts) != 0 {
		t.Fatal("directives must be ignored for history turns")
	}
	if got := f.out.texts(); !reflect.DeepEqual(got, []string{"小明，上次你说 #draw a cat"}) {
		t.Fatalf("delivered %v", got)
	}
}

func TestProcess_DrawPassesFullResponse(t *testing.T) {
	f := newPostFixture(false)
	response := "给你画 #draw a red fox, [anime] forest。"
	f.pp.Process(context.Background(), userTurn("画狐狸"), response)

	if !reflect.DeepEqual(f.image.prompts, []string{"a red fox, [anime] forest。"}) {
		t.Fatalf("generator got %q", f.image.prompts)
	}
	if got := f.out.texts(); !reflect.DeepEqual(got, []string{"[CQ:image,file=http://img/a.png]"}) {
		t.Fatalf("delivered %v", got)
	}
	if saved := f.store.saved(); len(saved) != 1 || saved[0].AssistantText != "[CQ:image,file=http://img/a.png]" {
		t.Fatalf("unexpected persisted %+v", saved)
	}
}

func TestProcess_DrawNormalizedPrompt(t *testing.T) {
	f := newPostFixture(true)
	f.pp.Process(context.Background(), userTurn("x"), "#draw sunset over sea。")
	if !reflect.DeepEqual(f.image.prompts, []string{"sunset,over,se"}) {
		t.Fatalf("generator got %q", f.image.prompts)
	}
}

func TestProcess_DrawFailures(t *testing.T) {
	f := newPostFixture(false)
	f.image.url = ""
	f.pp.Process(context.Background(), userTurn("x"), "#draw cat")

	f.image.err = errors.New("quota")
	f.pp.Process(context.Background(), userTurn("x"), "#draw cat")

	want := []string{noticeDrawEmpty, noticeDrawError}
	if got := f.out.texts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
}

func TestProcess_Recognize(t *testing.T) {
	f := newPostFixture(false)
	f.pp.Process(context.Background(), userTurn("x"), "#recognize [CQ:image,file=a.jpg,url=http://img/a.jpg]")
	if got := f.out.texts(); !reflect.DeepEqual(got, []string{"识别结果：一只猫"}) {
		t.Fatalf("delivered %v", got)
	}
	if f.rec.urls[0] != "http://img/a.jpg" {
		t.Fatalf("recognized %q", f.rec.urls[0])
	}
	if len(f.store.saved()) != 1 {
		t.Fatal("recognition result must be persisted")
	}
}

func TestProcess_RecognizeMissIsSilent(t *testing.T) {
	f := newPostFixture(false)
	f.rec.result = ""
	f.pp.Process(context.Background(), userTurn("x"), "#recognize http://img/a.jpg")
	f.pp.Process(context.Background(), userTurn("x"), "#recognize nothing")
	if got := f.out.texts(); len(got) != 0 {
		t.Fatalf("expected silence, got %v", got)
	}
}
