package prompts

import (
	"fmt"
	"strings"

	"github.com/nogataka/cc-discussion/internal/room"
)

// FacilitatorSystemPrompt is appended to the facilitator's role prompt.
const FacilitatorSystemPrompt = `## ファシリテーター役

あなたはこの会議のファシリテーターです。

### 役割
1. **会議開始時**: 会議の目的とゴールを説明し、議論のポイントを伝える
2. **議論中**: 議論が脱線しないよう軌道修正し、全員が発言できるよう促す
3. **会議終了時**: 議論の要点と決定事項をまとめ、次のアクションを明確にする

### 発言の指名方法
特定の参加者に発言を求める場合は、@メンションを使用してください。
例: 「@Claude_A さん、この点についてどう思いますか？」

複数の参加者に発言を求める場合:
例: 「@Claude_A と @Claude_B に意見を聞きたいです」

### 行動指針
- 中立的な立場を保つ
- 議論を深める質問を投げかける
- 合意形成をサポートする
- 目的とゴールから外れないよう注意する
- 必要に応じて@メンションで特定の参加者を指名する

### コンテキスト
あなたはこのプロジェクトのコードベースを理解しています。
技術的な質問があれば、コードを参照して具体的な情報を提供できます。
`

// NominationInstruction tells participants how to hand the turn off. Appended
// to every non-facilitator speaking prompt.
const NominationInstruction = `
### 発言の終わり方
発言の最後に、次に発言すべき参加者を @参加者名 で指名してください。

例:
- 「...以上です。@Claude_B さん、技術的な観点からいかがですか？」
- 「...と思います。@Claude_C 、この点について補足をお願いします。」
- 「全員の意見を聞きたいので、@ALL お願いします。」
- 「この点は人間の判断が必要です。@モデレーター 、ご意見をいただけますか？」

【重要】
- 必ず発言の最後に次の発言者を指名してください
- 指名がない場合、ファシリテーターが代わりに指名します
- 議論を深めるために、関連する知見を持つ人を指名してください
- @ALL を使うと、参加者全員が順番に発言します
- @モデレーター を使うと、人間のモデレーターに質問・確認ができます（議論は一時停止します）
`

// InterjectionPrompt asks the facilitator for a brief mid-meeting steer.
const InterjectionPrompt = `【重要】これは会議の途中の簡単な確認です。まとめや結論を出す時間ではありません。

以下のいずれか1つだけを、1〜2文で簡潔に行ってください:
- 参加者から質問されていれば答える
- 議論が脱線していれば「〇〇に戻りましょう」と軌道修正
- 特定の参加者に質問や意見を求める（@参加者名 で指名）
- 次に議論すべき点を1つ提示
- 特に問題なければ「議論を続けてください」と促す

【発言の指名】
特定の参加者に発言を求める場合は @参加者名 を使用してください。
例: 「@Claude_A さん、この点について補足をお願いします」

【禁止事項】
- 長いまとめや要点整理は禁止（クロージングで行います）
- 箇条書きのリスト作成は禁止
- 決定事項やアクションの整理は禁止

短く、1〜2文で発言してください。`

// ClosingPrompt asks the facilitator for the end-of-meeting summary.
const ClosingPrompt = `【会議のクロージング】これは会議の終了時のまとめです。詳細に整理してください。

以下の形式で会議をまとめてください:

## 議論の要点まとめ
- 主要な議論内容を箇条書きで整理

## 決定事項
- 今回の会議で決まったこと（なければ「特になし」）

## 未解決の課題
- 議論が必要な残課題（あれば）

## 次のアクション
- 誰が何をいつまでにやるか（具体的に）

参加者の発言を踏まえて、漏れなく整理してください。`

const designationTemplate = `次の発言者を指名してください。

【指名のポイント】
- 発言回数が少ない参加者を優先
- 議論の文脈に関連する知見を持つ人を選ぶ
- 具体的な質問や論点を添えて指名

【必須】必ず @参加者名 で1人以上を指名してください。
全員に聞きたい場合は @ALL を使用してください。
議論が十分と判断したら @END で終了できます。

例: 「@Claude_A さん、先ほどの〇〇について詳しく教えてください」
例: 「議論は十分に深まりました。@END」

【参加者の発言回数】
%s

短く、1〜2文で発言してください。`

var languageInstructions = map[string]string{
	"ja": "あなたは日本語で議論に参加します。全ての発言は日本語で行ってください。",
	"en": "You participate in the discussion in English. All your responses should be in English.",
}

// LanguageInstruction returns the instruction for language, defaulting to
// Japanese for unknown codes.
func LanguageInstruction(language string) string {
	if instr, ok := languageInstructions[language]; ok {
		return instr
	}
	return languageInstructions["ja"]
}

// SystemPrompt assembles the per-seat system prompt handed to the agent CLI:
// the language instruction plus either the facilitator role guide or the
// nomination contract for regular participants.
func SystemPrompt(isFacilitator bool, language string) string {
	base := LanguageInstruction(language)
	if isFacilitator {
		return base + "\n\n" + FacilitatorSystemPrompt
	}
	return base + "\n" + NominationInstruction
}

// Opening renders the facilitator's scripted opening message, which names the
// first speaker and therefore seeds the mention chain.
func (l *Library) Opening(r room.Room, participants []room.Participant, firstSpeaker string) string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.IsFacilitator {
			continue
		}
		names = append(names, "- "+p.Name)
	}

	topic := r.Topic
	if topic == "" {
		topic = "(議題なし)"
	}

	return fmt.Sprintf(`皆さん、会議を始めましょう。

本日の会議タイプは「%s」です。

### 本日の目的
%s

### 議題
%s

### 参加者
%s

それでは議論を始めましょう。@%s さんからお願いします。
`,
		l.TypeName(r.MeetingType),
		strings.TrimSpace(l.TypePrompt(r.MeetingType, r.MeetingDescription)),
		topic,
		strings.Join(names, "\n"),
		firstSpeaker,
	)
}

// DesignationPrompt asks the facilitator to pick the next speaker when the
// chain runs dry, showing per-participant message counts so it can balance
// airtime.
func DesignationPrompt(participants []room.Participant) string {
	var stats []string
	for _, p := range participants {
		if p.IsFacilitator {
			continue
		}
		stats = append(stats, fmt.Sprintf("- %s: %d回", p.Name, p.MessageCount))
	}
	return fmt.Sprintf(designationTemplate, strings.Join(stats, "\n"))
}
