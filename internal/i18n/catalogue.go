package i18n

var english = map[string]string{
	"start.welcome": "Hi {name}! Send me text and I will answer with a voice message. " +
		"Prefix it with a language tag to pick the language, e.g. \"fa: سلام\". Use /help for more.",
	"help.text": "Send any text to hear it spoken.\n" +
		"Prefix with a language tag to force a language, e.g. \"fa: سلام\".\n\n" +
		"Commands:\n" +
		"/start – introduction\n" +
		"/help – this message\n" +
		"/status – service status\n" +
		"/engines – registered engines\n" +
		"/voices [lang] – voice catalogue\n" +
		"/languages – supported languages\n" +
		"/stats – usage statistics\n" +
		"/cancel – cancel running work",

	"errors.not_admin":            "This command requires admin access.",
	"errors.unknown_command":      "Unknown command. Use /help for the command list.",
	"errors.rate_limited":         "Too many requests. Try again in {seconds}s.",
	"errors.empty_text":           "There is nothing to synthesize. Send some text.",
	"errors.text_too_long":        "That text is too long (limit {max} characters).",
	"errors.engine_not_found":     "Unknown engine {engine}.",
	"errors.unsupported_language": "No engine can speak {lang}.",
	"errors.unsupported_voice":    "Voice {voice} is not available.",
	"errors.all_engines_failed":   "All engines failed. Please try again later.",
	"errors.engine_unavailable":   "That engine is currently unavailable.",
	"errors.timeout":              "Synthesis took too long and was cancelled.",
	"errors.conversion_failed":    "Audio conversion failed.",
	"errors.internal":             "Something went wrong. Please try again.",

	"cancel.none": "Nothing to cancel.",
	"cancel.done": "Cancelled.",

	"voices.none": "No voices found for {lang}.",

	"settings.cache_on":  "Cache enabled.",
	"settings.cache_off": "Cache disabled.",
	"settings.audio_on":  "Audio processing enabled.",
	"settings.audio_off": "Audio processing disabled.",
	"settings.engine":    "Preferred engine set to {engine}.",
}

var persian = map[string]string{
	"start.welcome": "سلام {name}! متنی برایم بفرست تا با پیام صوتی جواب بدهم. " +
		"برای انتخاب زبان، اول متن برچسب زبان بگذار، مثلاً «fa: سلام». برای بیشتر /help را بزن.",
	"help.text": "هر متنی بفرستی، خوانده می‌شود.\n" +
		"برای تعیین زبان، برچسب زبان را اول متن بگذار، مثلاً «fa: سلام».\n\n" +
		"دستورها:\n" +
		"/start – معرفی\n" +
		"/help – همین پیام\n" +
		"/status – وضعیت سرویس\n" +
		"/engines – موتورهای ثبت‌شده\n" +
		"/voices [زبان] – فهرست صداها\n" +
		"/languages – زبان‌های پشتیبانی‌شده\n" +
		"/stats – آمار استفاده\n" +
		"/cancel – لغو کار در حال اجرا",

	"errors.not_admin":            "این دستور نیاز به دسترسی مدیر دارد.",
	"errors.unknown_command":      "دستور ناشناخته است. برای فهرست دستورها /help را بزن.",
	"errors.rate_limited":         "درخواست‌ها بیش از حد مجاز است. بعد از {seconds} ثانیه دوباره تلاش کن.",
	"errors.empty_text":           "متنی برای تبدیل وجود ندارد. یک متن بفرست.",
	"errors.text_too_long":        "متن خیلی طولانی است (حداکثر {max} نویسه).",
	"errors.engine_not_found":     "موتور {engine} شناخته نشد.",
	"errors.unsupported_language": "هیچ موتوری زبان {lang} را پشتیبانی نمی‌کند.",
	"errors.unsupported_voice":    "صدای {voice} در دسترس نیست.",
	"errors.all_engines_failed":   "همهٔ موتورها با خطا مواجه شدند. بعداً دوباره تلاش کن.",
	"errors.engine_unavailable":   "این موتور اکنون در دسترس نیست.",
	"errors.timeout":              "تبدیل بیش از حد طول کشید و لغو شد.",
	"errors.conversion_failed":    "تبدیل صدا با خطا مواجه شد.",
	"errors.internal":             "مشکلی پیش آمد. دوباره تلاش کن.",

	"cancel.none": "چیزی برای لغو وجود ندارد.",
	"cancel.done": "لغو شد.",

	"voices.none": "صدایی برای {lang} پیدا نشد.",

	"settings.cache_on":  "حافظهٔ نهان فعال شد.",
	"settings.cache_off": "حافظهٔ نهان غیرفعال شد.",
	"settings.audio_on":  "پردازش صدا فعال شد.",
	"settings.audio_off": "پردازش صدا غیرفعال شد.",
	"settings.engine":    "موتور ترجیحی روی {engine} تنظیم شد.",
}

var arabic = map[string]string{
	"start.welcome": "مرحباً {name}! أرسل لي نصاً وسأرد عليه برسالة صوتية. " +
		"ابدأ النص بوسم اللغة لاختيارها، مثلاً «ar: مرحبا». استخدم /help للمزيد.",
	"help.text": "أرسل أي نص لسماعه منطوقاً.\n" +
		"ابدأ بوسم اللغة لفرض لغة معينة، مثلاً «ar: مرحبا».\n\n" +
		"الأوامر:\n" +
		"/start – مقدمة\n" +
		"/help – هذه الرسالة\n" +
		"/status – حالة الخدمة\n" +
		"/engines – المحركات المسجلة\n" +
		"/voices [اللغة] – قائمة الأصوات\n" +
		"/languages – اللغات المدعومة\n" +
		"/stats – إحصاءات الاستخدام\n" +
		"/cancel – إلغاء العمل الجاري",

	"errors.not_admin":            "هذا الأمر يتطلب صلاحيات المشرف.",
	"errors.unknown_command":      "أمر غير معروف. استخدم /help لقائمة الأوامر.",
	"errors.rate_limited":         "طلبات كثيرة جداً. حاول مرة أخرى بعد {seconds} ثانية.",
	"errors.empty_text":           "لا يوجد نص للتحويل. أرسل نصاً.",
	"errors.text_too_long":        "النص طويل جداً (الحد الأقصى {max} حرفاً).",
	"errors.engine_not_found":     "المحرك {engine} غير معروف.",
	"errors.unsupported_language": "لا يوجد محرك يدعم اللغة {lang}.",
	"errors.unsupported_voice":    "الصوت {voice} غير متاح.",
	"errors.all_engines_failed":   "فشلت جميع المحركات. حاول مرة أخرى لاحقاً.",
	"errors.engine_unavailable":   "هذا المحرك غير متاح حالياً.",
	"errors.timeout":              "استغرق التحويل وقتاً طويلاً وتم إلغاؤه.",
	"errors.conversion_failed":    "فشل تحويل الصوت.",
	"errors.internal":             "حدث خطأ ما. حاول مرة أخرى.",

	"cancel.none": "لا يوجد شيء للإلغاء.",
	"cancel.done": "تم الإلغاء.",

	"voices.none": "لم يتم العثور على أصوات للغة {lang}.",

	"settings.cache_on":  "تم تفعيل الذاكرة المؤقتة.",
	"settings.cache_off": "تم تعطيل الذاكرة المؤقتة.",
	"settings.audio_on":  "تم تفعيل معالجة الصوت.",
	"settings.audio_off": "تم تعطيل معالجة الصوت.",
	"settings.engine":    "تم تعيين المحرك المفضل إلى {engine}.",
}
