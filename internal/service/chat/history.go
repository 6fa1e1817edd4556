package chat

import (
	"slices"
	"strings"

	"AssistantChat/internal/ai"
)

// RebuildHistory превращает список сообщений треда в плоскую историю.
//
// Сообщения сортируются по времени создания (стабильно, при равенстве остаётся порядок сервера),
// блоки внутри сообщения идут в исходном порядке. У пользователя текст становится репликой,
// а изображение заменяется на ImagePlaceholder. У ассистента остаётся только текст.
//
// instruction: языковая инструкция, которая дописывалась к тексту пользователя при отправке;
// из пользовательских реплик она вырезается. Пустая строка отключает вырезание.
// Входной срез не изменяется.
func RebuildHistory(messages []ai.Message, instruction string) []Turn {
	sorted := slices.Clone(messages)
	slices.SortStableFunc(sorted, func(a, b ai.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	suffix := ""
	if instruction != "" {
		suffix = "\n" + instruction
	}

	turns := make([]Turn, 0, len(sorted))
	for _, m := range sorted {
		switch m.Role {
		case ai.RoleUser:
			for _, b := range m.Content {
				switch {
				case b.Type == ai.BlockText:
					text := b.Text
					if suffix != "" {
						text = strings.TrimSuffix(text, suffix)
					}
					turns = append(turns, Turn{Role: ai.RoleUser, Content: text})
				case b.IsImage():
					turns = append(turns, Turn{Role: ai.RoleUser, Content: ImagePlaceholder})
				}
			}
		case ai.RoleAssistant:
			for _, b := range m.Content {
				if b.Type == ai.BlockText {
					turns = append(turns, Turn{Role: ai.RoleAssistant, Content: b.Text})
				}
			}
		}
	}
	return turns
}
